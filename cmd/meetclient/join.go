package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/mossy-p/meeting-signaling/internal/client"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/peer"
)

var (
	flagLoopback bool
	flagSTUN     []string
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a call room with synthetic audio and video",
	Long: `Join a 1:1 call room. The second endpoint to join starts the call.

While joined, type a line to chat with everyone, or use:
  /audio           toggle the microphone
  /video           toggle the camera
  /dm <user> text  send a private message
  /leave           hang up and exit`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().BoolVar(&flagLoopback, "loopback", false, "Gather loopback candidates (two clients on one host)")
	joinCmd.Flags().StringSliceVar(&flagSTUN, "stun", nil, "STUN servers; defaults to the relay's list")
}

func joinRoom(roomID string) error {
	ctx, cancel := signalContext()
	defer cancel()

	stun := flagSTUN
	if len(stun) == 0 {
		urls, err := client.ICEServers(ctx, flagServer)
		if err != nil {
			printWarning("Could not fetch ICE servers: %v", err)
		}
		stun = urls
	}
	factory, err := peer.NewPionFactory(stun, flagLoopback)
	if err != nil {
		return err
	}

	conn, id, err := dial(ctx)
	if err != nil {
		return err
	}

	ended := make(chan struct{})
	session := client.NewSession(conn, client.SessionConfig{
		Identity: id,
		Media:    peer.SyntheticSource{StreamID: "meetclient"},
		NewConn:  factory,
		Events: client.Events{
			OnRoomJoined: func(rj models.RoomJoined) {
				if rj.IsFirst {
					printInfo("Joined %s, waiting for someone else", rj.RoomID)
				} else {
					printInfo("Joined %s with %s", rj.RoomID, strings.Join(rj.Peers, ", "))
				}
			},
			OnPeerJoined: func(connID string) { printInfo("Peer %s joined", connID) },
			OnPeerLeft:   func(connID string) { printInfo("Peer %s left", connID) },
			OnTyping:     printTyping,
			OnMessage:    printMessage,
			OnError:      printRelayError,
			OnState: func(s peer.State) {
				printState(s)
				if s == peer.Closed {
					select {
					case <-ended:
					default:
						close(ended)
					}
				}
			},
		},
		OnRemoteTrack: func(track *webrtc.TrackRemote) {
			printInfo("Receiving %s (%s)", track.Kind(), track.Codec().MimeType)
		},
	})
	defer session.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	selfID, err := session.WaitConnected(ctx)
	if err != nil {
		return err
	}
	printInfo("Connected as %s", selfID)

	if err := session.Join(ctx, roomID); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}

	lines := make(chan string)
	go readLines(lines)

	for {
		select {
		case <-ctx.Done():
			session.Leave()
			return nil
		case <-ended:
			return nil
		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("relay connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if done := handleLine(session, roomID, line); done {
				session.Leave()
				return nil
			}
		}
	}
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out <- line
		}
	}
}

// handleLine runs one interactive command and reports whether to exit.
func handleLine(s *client.Session, roomID, line string) bool {
	var err error
	switch {
	case line == "/leave":
		return true
	case line == "/audio":
		printInfo("Microphone on: %v", s.Machine().ToggleAudio())
	case line == "/video":
		printInfo("Camera on: %v", s.Machine().ToggleVideo())
	case strings.HasPrefix(line, "/dm "):
		parts := strings.SplitN(strings.TrimPrefix(line, "/dm "), " ", 2)
		if len(parts) != 2 {
			printWarning("usage: /dm <user> <text>")
			return false
		}
		err = s.SendPrivate(parts[0], parts[1])
	default:
		err = s.SendGroup(roomID, line)
	}
	if err != nil {
		printWarning("Send failed: %v", err)
	}
	return false
}
