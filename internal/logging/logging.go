// Package logging configures the per-subsystem loggers used across the relay.
package logging

import (
	"fmt"
	"strings"

	golog "github.com/ipfs/go-log/v2"
)

// Logger returns the named subsystem logger.
func Logger(system string) *golog.ZapEventLogger {
	return golog.Logger(system)
}

// Setup applies level and output format to every subsystem logger.
// format is one of "color", "plain" or "json".
func Setup(level, format string) error {
	lvl, err := golog.LevelFromString(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var f golog.LogFormat
	switch strings.ToLower(format) {
	case "", "color", "colour":
		f = golog.ColorizedOutput
	case "plain", "text":
		f = golog.PlaintextOutput
	case "json":
		f = golog.JSONOutput
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	golog.SetupLogging(golog.Config{
		Format: f,
		Level:  lvl,
		Stderr: true,
	})
	return nil
}
