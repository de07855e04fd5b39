// Package cli implements the notesync command line tool. It follows the
// realtime stream of a notes server and prints every validated event, and
// manages the token file the stream authorizes with.
//
// Settings come from flags, NOTESYNC_* environment variables and an optional
// config file, in that order of precedence.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/simplenotes/notesync/pkg/constants"
	"github.com/simplenotes/notesync/pkg/logger"
	"github.com/simplenotes/notesync/pkg/tokenstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "NOTESYNC"

// Setting keys. Flags use the same names.
const (
	keyConfig       = "config"
	keyStreamURL    = "stream-url"
	keyAPIURL       = "api-url"
	keyTokenFile    = "token-file"
	keyLogLevel     = "log-level"
	keyLogFile      = "log-file"
	keyLogJSON      = "log-json"
	keyMaxAttempts  = "max-reconnect-attempts"
	keyReconnect    = "reconnect-interval"
	keyBackoff      = "reconnect-backoff"
	keyMaxDelay     = "reconnect-max-delay"
	keyHeartbeat    = "heartbeat-interval"
	keyHeartbeatTTL = "heartbeat-timeout"
	keyTransport    = "transport"
)

// app carries what every sub-command needs once settings are resolved.
type app struct {
	v      *viper.Viper
	log    *logger.LogData
	logger zerolog.Logger
}

// Main runs the command line with args, without the program name.
func Main(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:          "notesync",
		Short:        "Follow a notes server's realtime stream",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.log == nil {
				return nil
			}
			return a.log.Close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringP(keyConfig, "c", "", "config file (yaml, json or toml)")
	flags.String(keyStreamURL, "ws://localhost:8080/ws", "websocket endpoint of the event stream")
	flags.String(keyAPIURL, "", "REST base URL for the initial load, empty to skip it")
	flags.String(keyTokenFile, defaultTokenFile(), "file holding the authorization token")
	flags.String(keyLogLevel, "info", "minimum log level")
	flags.String(keyLogFile, "", "append logs to this file instead of stderr")
	flags.Bool(keyLogJSON, false, "write logs as JSON instead of console lines")
	flags.Int(keyMaxAttempts, constants.DefaultMaxReconnectAttempts, "reconnect attempts before giving up")
	flags.Duration(keyReconnect, constants.DefaultReconnectInterval, "delay between reconnect attempts, the first delay with exponential backoff")
	flags.String(keyBackoff, backoffFixed, "reconnect delay strategy: fixed or exponential")
	flags.Duration(keyMaxDelay, constants.DefaultMaxReconnectDelay, "upper bound of the exponential reconnect delay")
	flags.Duration(keyHeartbeat, constants.DefaultHeartbeatInterval, "heartbeat ping interval, 0 disables heartbeats")
	flags.Duration(keyHeartbeatTTL, constants.DefaultHeartbeatTimeout, "close the connection after this long without a frame")
	flags.String(keyTransport, transportGorilla, "websocket implementation: gorilla or gws")

	root.AddCommand(
		newFollowCommand(a),
		newLoginCommand(a),
		newLogoutCommand(a),
		newNotesCommand(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if path := a.v.GetString(keyConfig); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	build := logger.New().
		FromBuffer(cmd.ErrOrStderr()).
		Level(a.v.GetString(keyLogLevel)).
		Console(!a.v.GetBool(keyLogJSON))
	if path := a.v.GetString(keyLogFile); path != "" {
		build = build.FromPath(path)
	}
	logData, err := build.Make()
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	a.log = logData
	a.logger = logData.Logger
	return nil
}

func (a *app) tokens() *tokenstore.File {
	return tokenstore.NewFile(a.v.GetString(keyTokenFile), a.logger)
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "notesync.token"
	}
	return filepath.Join(dir, "notesync", "token")
}
