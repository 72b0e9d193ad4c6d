package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mossy-p/meeting-signaling/internal/client"
	"github.com/mossy-p/meeting-signaling/internal/logging"
	"github.com/mossy-p/meeting-signaling/internal/models"
)

var (
	flagServer   string
	flagCodec    string
	flagToken    string
	flagUserID   string
	flagName     string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "meetclient",
	Short: "Headless endpoint for the meeting signaling relay",
	Long: `meetclient connects to a signaling relay over websocket and either joins a
1:1 call room with synthetic audio and video, or watches who is online.

Examples:
  meetclient join demo --server http://localhost:8080
  meetclient join demo --user alice --name Alice --codec msgpack
  meetclient watch --user bob --name Bob`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Setup(flagLogLevel, "color")
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagServer, "server", "s", "http://localhost:8080", "Relay address")
	pf.StringVarP(&flagCodec, "codec", "c", "json", "Wire codec: json or msgpack")
	pf.StringVarP(&flagToken, "token", "t", "", "Login token; the relay announces its identity on connect")
	pf.StringVarP(&flagUserID, "user", "u", "", "User id to announce")
	pf.StringVarP(&flagName, "name", "n", "", "Display name to announce")
	pf.StringVar(&flagLogLevel, "log-level", "error", "Log level for relay and call internals")
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// identity builds the profile to announce, or nil when none was given.
func identity() *models.Identity {
	if flagUserID == "" {
		return nil
	}
	name := flagName
	if name == "" {
		name = flagUserID
	}
	return &models.Identity{ID: flagUserID, Name: name}
}

// dial connects to the relay, logging in first when a user id was given
// without a token.
func dial(ctx context.Context) (*client.Conn, *models.Identity, error) {
	token := flagToken
	id := identity()
	if token == "" && id != nil {
		t, err := client.Login(ctx, flagServer, models.LoginRequest{UserID: id.ID, Name: id.Name})
		if err != nil {
			printWarning("Login failed, announcing without a token: %v", err)
		} else {
			token = t
			// the relay announces token holders itself
			id = nil
		}
	}

	stop := runSpinner("Connecting to relay...")
	conn, err := client.Dial(ctx, flagServer, client.DialOptions{Codec: flagCodec, Token: token})
	stop(err == nil)
	if err != nil {
		return nil, nil, err
	}
	return conn, id, nil
}
