package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	notesync "github.com/simplenotes/notesync"
	"github.com/simplenotes/notesync/httpclient"
	"github.com/simplenotes/notesync/internal/codec"
	"github.com/simplenotes/notesync/pkg/connection"
	"github.com/simplenotes/notesync/pkg/connection/gorillaws"
	gwstransport "github.com/simplenotes/notesync/pkg/connection/gws"
	"github.com/simplenotes/notesync/pkg/events"
	"github.com/simplenotes/notesync/pkg/notify"
	"github.com/simplenotes/notesync/pkg/tokenstore"
	"github.com/spf13/cobra"
)

func newFollowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "follow",
		Short: "Connect to the stream and print every event as a JSON line",
		Long: `Connect to the stream and print every validated event as a JSON line on
stdout. The token file is watched: signing in elsewhere connects, signing out
disconnects. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.follow(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

const (
	transportGorilla = "gorilla"
	transportGWS     = "gws"
)

func (a *app) transport() (connection.Transport, error) {
	switch name := a.v.GetString(keyTransport); name {
	case transportGorilla:
		return gorillaws.New(gorillaws.WithLogger(a.logger)), nil
	case transportGWS:
		return gwstransport.New(gwstransport.WithLogger(a.logger)), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

const (
	backoffFixed       = "fixed"
	backoffExponential = "exponential"
)

func newRetryer(name string, interval, maxDelay time.Duration) (connection.Retryer, error) {
	switch name {
	case backoffFixed:
		return connection.NewFixedDelayRetryer(interval, 0), nil
	case backoffExponential:
		r := connection.NewExponentialBackoffRetryer()
		r.InitialDelay = interval
		r.MaxDelay = maxDelay
		return r, nil
	default:
		return nil, fmt.Errorf("unknown reconnect backoff %q", name)
	}
}

func (a *app) follow(ctx context.Context, out io.Writer) error {
	transport, err := a.transport()
	if err != nil {
		return err
	}
	retryer, err := newRetryer(a.v.GetString(keyBackoff), a.v.GetDuration(keyReconnect), a.v.GetDuration(keyMaxDelay))
	if err != nil {
		return err
	}
	client, err := notesync.New(notesync.Options{
		StreamURL: a.v.GetString(keyStreamURL),
		APIURL:    a.v.GetString(keyAPIURL),
		Tokens:    a.tokens(),
		Notifier:  &notify.Log{Logger: a.logger},
		Logger:    a.logger,
		Transport: transport,
		Configure: func(cfg *connection.Config) {
			a.configure(cfg)
			cfg.Retryer = retryer
		},
	})
	if err != nil {
		return err
	}

	var mu sync.Mutex
	enc := codec.Default.NewEncoder(out)
	unsubscribe := client.Subscribe(func(name events.Name, payload any) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(map[string]any{"type": name, "data": payload}); err != nil {
			a.logger.Warn().Err(err).Str("event", string(name)).Msg("failed to print event")
		}
	})
	defer unsubscribe()

	err = client.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) configure(cfg *connection.Config) {
	cfg.MaxReconnectAttempts = a.v.GetInt(keyMaxAttempts)
	cfg.ReconnectInterval = a.v.GetDuration(keyReconnect)
	cfg.HeartbeatInterval = a.v.GetDuration(keyHeartbeat)
	cfg.HeartbeatTimeout = a.v.GetDuration(keyHeartbeatTTL)
	cfg.OnStateChange = func(s connection.Status) {
		ev := a.logger.Info().Stringer("status", s).Int("attempts", s.Attempts)
		if s.ConnID != "" {
			ev = ev.Str("conn_id", s.ConnID)
		}
		ev.Msg("connection status")
	}
}

func newLoginCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login [token]",
		Short: "Store the authorization token",
		Long:  "Store the authorization token. Without an argument the token is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := tokenArg(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if tokenstore.Expired(token, time.Now()) {
				return fmt.Errorf("login: %w", errTokenExpired)
			}
			if err := a.tokens().Save(token); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			a.logger.Info().Str("path", a.v.GetString(keyTokenFile)).Msg("token stored")
			return nil
		},
	}
}

var errTokenExpired = errors.New("token is already expired")

func tokenArg(args []string, in io.Reader) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", errors.New("login: empty token")
	}
	return token, nil
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := a.tokens().Clear(); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			a.logger.Info().Msg("token removed")
			return nil
		},
	}
}

func newNotesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "notes",
		Short: "List the notes visible to the signed in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base := a.v.GetString(keyAPIURL)
			if base == "" {
				return fmt.Errorf("notes: --%s is required", keyAPIURL)
			}
			token, err := a.tokens().Load()
			if err != nil {
				return fmt.Errorf("notes: %w", err)
			}

			notes, err := httpclient.New(base).WithLogger(a.logger).ListNotes(cmd.Context(), token)
			if err != nil {
				return fmt.Errorf("notes: %w", err)
			}
			enc := codec.Default.NewEncoder(cmd.OutOrStdout())
			for _, n := range notes {
				if err := enc.Encode(n); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
