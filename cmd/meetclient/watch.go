package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/mossy-p/meeting-signaling/internal/client"
	"github.com/mossy-p/meeting-signaling/internal/peer"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the roster, typing and chat traffic until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watch()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func watch() error {
	ctx, cancel := signalContext()
	defer cancel()

	conn, id, err := dial(ctx)
	if err != nil {
		return err
	}

	session := client.NewSession(conn, client.SessionConfig{
		Identity: id,
		// never joins a room, so no media or connections are created
		Media: peer.SyntheticSource{},
		Events: client.Events{
			OnRoster:  printRoster,
			OnTyping:  printTyping,
			OnMessage: printMessage,
			OnError:   printRelayError,
		},
	})
	defer session.Close()

	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
