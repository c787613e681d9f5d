package isolator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/regressoor/pkg/config"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

// initRepo creates a scratch git repository with one commit.
func initRepo(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	ctx := context.Background()

	mustGit := func(args ...string) {
		t.Helper()

		_, err := runGit(ctx, dir, args...)
		require.NoError(t, err)
	}

	mustGit("init", "--initial-branch=main")
	mustGit("config", "user.email", "ci@example.com")
	mustGit("config", "user.name", "ci")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "service.py"), []byte("v1\n"), 0o644))
	mustGit("add", ".")
	mustGit("commit", "-m", "initial service")

	return dir
}

func isolationConfig(repo string, overlays ...string) *config.Config {
	cfg := &config.Config{
		Tests: config.TestsConfig{
			Command:    []string{"true"},
			ReportPath: "report.json",
			Overlays:   overlays,
		},
		Isolation: config.IsolationConfig{
			RepoPath:       repo,
			Workspace:      filepath.Join(repo, ".workspace"),
			ReadyTimeout:   time.Second,
			ReadyWaitAfter: time.Millisecond,
		},
	}

	return cfg
}

func TestResolveRevisionNotFound(t *testing.T) {
	repo := initRepo(t)

	_, err := ResolveRevision(context.Background(), repo, "no-such-ref")
	require.Error(t, err)

	var notFound *RevisionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "no-such-ref", notFound.Ref)
}

func TestPrepareAndTeardown(t *testing.T) {
	repo := initRepo(t)
	cfg := isolationConfig(repo)

	iso := New(testLogger(), cfg, nil)

	ws, err := iso.Prepare(context.Background(), "HEAD")
	require.NoError(t, err)
	require.NotNil(t, ws.Revision)
	assert.Equal(t, "initial service", ws.Revision.Message)
	assert.Len(t, ws.Revision.ID, 40)
	assert.FileExists(t, filepath.Join(ws.Dir, "service.py"))
	assert.Empty(t, ws.Warnings)

	require.NoError(t, iso.Teardown(context.Background()))
	assert.NoDirExists(t, ws.Dir)

	// Teardown is idempotent.
	require.NoError(t, iso.Teardown(context.Background()))
}

func TestPrepareOverlays(t *testing.T) {
	repo := initRepo(t)

	// A newer test surface exists in the invoking tree but not in
	// the committed revision.
	testsDir := filepath.Join(repo, "tests")
	require.NoError(t, os.MkdirAll(testsDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(testsDir, "test_service.py"), []byte("new tests\n"), 0o644))

	cfg := isolationConfig(repo, "tests", "missing-dir")
	iso := New(testLogger(), cfg, nil)

	ws, err := iso.Prepare(context.Background(), "HEAD")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(ws.Dir, "tests", "test_service.py"))

	// The absent overlay is a warning, never fatal.
	require.Len(t, ws.Warnings, 1)

	var missing *OverlayMissingWarning
	require.ErrorAs(t, ws.Warnings[0], &missing)
	assert.Equal(t, "missing-dir", missing.Path)

	require.NoError(t, iso.Teardown(context.Background()))
}

func TestPrepareSweepsStaleWorkspace(t *testing.T) {
	repo := initRepo(t)
	cfg := isolationConfig(repo)

	// Simulate a crashed run's leftovers.
	require.NoError(t, os.MkdirAll(cfg.Isolation.Workspace, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.Isolation.Workspace, "stale.txt"), []byte("old"), 0o644))

	iso := New(testLogger(), cfg, nil)

	ws, err := iso.Prepare(context.Background(), "HEAD")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(ws.Dir, "stale.txt"))

	require.NoError(t, iso.Teardown(context.Background()))
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "dst")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "b.txt"), []byte("b"), 0o600))

	require.NoError(t, copyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))

	info, err := os.Stat(filepath.Join(dst, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
