package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadEnv_FallsBackToGoModRoot(t *testing.T) {
	tmp := t.TempDir()

	requireWriteFile(t, filepath.Join(tmp, "go.mod"), "module example.com/test\n\ngo 1.22\n")
	requireWriteFile(t, filepath.Join(tmp, ".env.local"), "WORKSHOP_TEST_ENV_LOAD=ok\n")

	sub := filepath.Join(tmp, "pkg", "configuration")
	requireMkdirAll(t, sub)

	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(sub))

	_ = os.Unsetenv("WORKSHOP_TEST_ENV_LOAD")

	n, err := LoadEnv([]string{".env", ".env.local"})
	require.NoError(t, err)
	require.Equal(t, 1, n, "expected 1 env file loaded")
	require.Equal(t, "ok", os.Getenv("WORKSHOP_TEST_ENV_LOAD"))
}

func TestSchedulerOptions_Validate(t *testing.T) {
	opts := SchedulerOptions{SweepInterval: 30 * time.Second, BatchSize: 200}
	require.NoError(t, opts.Validate())

	opts = SchedulerOptions{SweepInterval: 100 * time.Millisecond, BatchSize: 200}
	require.Error(t, opts.Validate())

	opts = SchedulerOptions{SweepInterval: time.Minute, BatchSize: 0}
	require.Error(t, opts.Validate())
}

func TestJobNumberOptions_Validate(t *testing.T) {
	opts := JobNumberOptions{Prefix: "RJ"}
	require.NoError(t, opts.Validate())

	opts = JobNumberOptions{Prefix: " WS1 "}
	require.NoError(t, opts.Validate())
	require.Equal(t, "WS1", opts.Prefix)

	opts = JobNumberOptions{Prefix: ""}
	require.Error(t, opts.Validate())

	opts = JobNumberOptions{Prefix: "rj-"}
	require.Error(t, opts.Validate())
}

func requireWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func requireMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}
