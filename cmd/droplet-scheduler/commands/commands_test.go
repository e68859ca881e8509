package commands

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves an account with no tagged droplets and no snapshots.
type fakeAPI struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v2/droplets":
		w.Write([]byte(`{"droplets":[],"links":{},"meta":{"total":0}}`))
	case r.Method == http.MethodGet && r.URL.Path == "/v2/snapshots":
		w.Write([]byte(`{"snapshots":[],"links":{},"meta":{"total":0}}`))
	case r.Method == http.MethodGet && r.URL.Path == "/v2/images":
		w.Write([]byte(`{"images":[],"links":{},"meta":{"total":0}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"id":"not_found","message":"not found"}`))
	}
}

func (f *fakeAPI) mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.paths {
		if p[:3] != "GET" {
			out = append(out, p)
		}
	}
	return out
}

func setupEnv(t *testing.T, apiURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("DROPLET_SCHEDULER_API_TOKEN", "test-token")
	t.Setenv("DROPLET_SCHEDULER_API_URL", apiURL)
	t.Setenv("DROPLET_SCHEDULER_IMAGE_NAMESPACE", "nightshift-")
	t.Setenv("DROPLET_SCHEDULER_DROPLET_NAMESPACE", "nightshift")
	t.Setenv("DROPLET_SCHEDULER_DROPLET_NAME", "worker")
	t.Setenv("DROPLET_SCHEDULER_RUN_HOURS", "")
	t.Setenv("DROPLET_SCHEDULER_JOURNAL_PATH", filepath.Join(dir, "data", "journal.db"))
	t.Setenv("DROPLET_SCHEDULER_FSM_MAX_RETRIES", "0")

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReconcileCommandPrintsOK(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()
	dir := setupEnv(t, srv.URL)

	out, err := execute(t, "reconcile")
	require.NoError(t, err)
	assert.Equal(t, "{\"statusCode\":200,\"body\":{}}\n", out)
	assert.Empty(t, api.mutations())

	_, err = os.Stat(filepath.Join(dir, "data", "journal.db"))
	assert.NoError(t, err, "journal should be created on first run")

	out, err = execute(t, "history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "none")
	assert.Contains(t, out, "succeeded")
}

func TestReconcileCommandRejectsInvalidConfig(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")
	t.Setenv("DROPLET_SCHEDULER_RUN_HOURS", "9-30")

	_, err := execute(t, "reconcile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config invalid")
}

func TestHistoryWithoutJournal(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")
	t.Setenv("DROPLET_SCHEDULER_JOURNAL_PATH", "")

	_, err := execute(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal-path is not set")
}

func TestCleanupEmptyJournal(t *testing.T) {
	dir := setupEnv(t, "http://127.0.0.1:1")
	require.NoError(t, ensureDirectories(filepath.Join(dir, "data", "journal.db"), ""))

	out, err := execute(t, "cleanup", "--older-than", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 runs")
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()

	l := newLogger("debug", "json")
	assert.True(t, l.Enabled(ctx, slog.LevelDebug))

	l = newLogger("warn", "text")
	assert.False(t, l.Enabled(ctx, slog.LevelInfo))
	assert.True(t, l.Enabled(ctx, slog.LevelWarn))

	l = newLogger("bogus", "text")
	assert.True(t, l.Enabled(ctx, slog.LevelInfo))
	assert.False(t, l.Enabled(ctx, slog.LevelDebug))
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "a", "b", "journal.db")
	fsmPath := filepath.Join(dir, "fsm")

	require.NoError(t, ensureDirectories(journalPath, fsmPath))

	info, err := os.Stat(filepath.Dir(journalPath))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	info, err = os.Stat(fsmPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.NoError(t, ensureDirectories("", ""))
}
