package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/simplenotes/notesync/internal/cli"
	"github.com/simplenotes/notesync/internal/fakeserver"
	"github.com/simplenotes/notesync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func run(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut syncBuffer
	cmd := cli.NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestLoginLogout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "token")

	_, err := run(t, context.Background(), "", "login", "--token-file", path, "abc")
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc\n", string(raw))

	_, err = run(t, context.Background(), "from-stdin\n", "login", "--token-file", path)
	require.NoError(t, err)
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-stdin\n", string(raw))

	_, err = run(t, context.Background(), "", "logout", "--token-file", path)
	require.NoError(t, err)
	assert.NoFileExists(t, path)
}

func TestLoginRejectsEmptyToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	_, err := run(t, context.Background(), "\n", "login", "--token-file", path)
	require.Error(t, err)
	assert.NoFileExists(t, path)
}

func TestNotes(t *testing.T) {
	server := fakeserver.New()
	defer server.Close()
	server.SetNotes([]models.NoteSummary{
		{ID: 7, Type: models.NoteTypeText, Name: "seven", Visibility: models.VisibilityPublic},
	})

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("tok\n"), 0o600))

	out, err := run(t, context.Background(), "", "notes", "--token-file", path, "--api-url", server.URL())
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"seven"`)
}

func TestNotesRequiresAPIURL(t *testing.T) {
	_, err := run(t, context.Background(), "", "notes", "--token-file", filepath.Join(t.TempDir(), "token"))
	require.ErrorContains(t, err, "api-url")
}

func TestSettingsFromEnvironment(t *testing.T) {
	server := fakeserver.New()
	defer server.Close()

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("tok\n"), 0o600))
	t.Setenv("NOTESYNC_API_URL", server.URL())
	t.Setenv("NOTESYNC_TOKEN_FILE", path)

	_, err := run(t, context.Background(), "", "notes")
	require.NoError(t, err)
}

func TestSettingsFromConfigFile(t *testing.T) {
	server := fakeserver.New()
	defer server.Close()

	dir := t.TempDir()
	token := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(token, []byte("tok\n"), 0o600))
	config := filepath.Join(dir, "notesync.yaml")
	require.NoError(t, os.WriteFile(config, []byte("api-url: "+server.URL()+"\ntoken-file: "+token+"\n"), 0o600))

	_, err := run(t, context.Background(), "", "notes", "--config", config)
	require.NoError(t, err)
}

func TestFollowPrintsEvents(t *testing.T) {
	for _, transport := range []string{"gorilla", "gws"} {
		t.Run(transport, func(t *testing.T) {
			testFollow(t, transport)
		})
	}
}

func TestFollowUnknownTransport(t *testing.T) {
	_, err := run(t, context.Background(), "", "follow", "--transport", "carrier-pigeon", "--token-file", filepath.Join(t.TempDir(), "token"))
	require.ErrorContains(t, err, "unknown transport")
}

func TestFollowUnknownBackoff(t *testing.T) {
	_, err := run(t, context.Background(), "", "follow", "--reconnect-backoff", "linear", "--token-file", filepath.Join(t.TempDir(), "token"))
	require.ErrorContains(t, err, "unknown reconnect backoff")
}

func TestFollowReconnectsWithExponentialBackoff(t *testing.T) {
	server := fakeserver.New()
	defer server.Close()

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("tok\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		cmd := cli.NewRootCommand()
		cmd.SetArgs([]string{
			"follow", "--token-file", path, "--stream-url", server.StreamURL(), "--log-level", "error",
			"--reconnect-backoff", "exponential", "--reconnect-interval", "10ms", "--reconnect-max-delay", "50ms",
		})
		cmd.SetOut(&syncBuffer{})
		cmd.SetErr(&syncBuffer{})
		done <- cmd.ExecuteContext(ctx)
	}()

	require.Eventually(t, func() bool { return server.Connections() == 1 }, 3*time.Second, 10*time.Millisecond)
	server.DropAll()
	require.Eventually(t, func() bool {
		return len(server.Dials()) == 2 && server.Connections() == 1
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func testFollow(t *testing.T, transport string) {
	server := fakeserver.New()
	defer server.Close()

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("tok\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		cmd := cli.NewRootCommand()
		cmd.SetArgs([]string{"follow", "--token-file", path, "--stream-url", server.StreamURL(), "--log-level", "error", "--transport", transport})
		cmd.SetOut(&out)
		cmd.SetErr(&syncBuffer{})
		done <- cmd.ExecuteContext(ctx)
	}()

	require.Eventually(t, func() bool { return server.Connections() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, server.PushEvent("NOTE_DELETED", map[string]int{"id": 4}))
	require.NoError(t, server.Push([]byte(`{"type":"NOTE_DELETED","data":{"id":"bad"}}`)))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"type":"NOTE_DELETED"`)
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, strings.Count(out.String(), "\n"), "invalid frame must not be printed")
}
