package claudecode

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/agentbridge/internal/config"
	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/protocol"
)

func TestBuildStartArgs(t *testing.T) {
	args := buildStartArgs("/tmp/proj", "fix it", "claude-x")
	require.Contains(t, args, "--output-format")
	require.Contains(t, args, "stream-json")
	require.Contains(t, args, "claude-x")
	require.Contains(t, args, "fix it")
}

func TestBuildResumeArgs(t *testing.T) {
	args := buildResumeArgs("sess-1", "more please")
	require.Contains(t, args, "--resume")
	require.Contains(t, args, "sess-1")
	require.Contains(t, args, "more please")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "foo"), expandHome("~/foo"))
	require.Equal(t, "/abs/path", expandHome("/abs/path"))
}

func TestFilepathRoot_FallsBackToParentWhenUndecodable(t *testing.T) {
	got := filepathRoot("/root/sessions/notdashprefixed/s1.jsonl", "/root/sessions")
	require.Equal(t, "/root/sessions/notdashprefixed", got)
}

func TestFilepathRoot_DecodesKnownProjectDir(t *testing.T) {
	dir := t.TempDir()
	sessionDir := filepath.Join(dir, encodeProjectDir(dir))
	require.NoError(t, os.MkdirAll(sessionDir, 0o755))
	got := filepathRoot(filepath.Join(sessionDir, "s1.jsonl"), dir)
	require.Equal(t, dir, got)
}

func TestVersion_CachesResultWithinTTL(t *testing.T) {
	a := New(config.ClaudeCodeConfig{BinaryPath: "/bin/echo"}, protocol.NewFactory(), logger.Default())
	a.versionTTL = time.Hour

	str1, ok1 := a.Version(context.Background())
	require.True(t, ok1)

	// A second call within the TTL must serve the cached result rather than
	// re-exec, so pointing at a binary that doesn't exist must not surface.
	a.cfg.BinaryPath = "/nonexistent/agentbridge-test-binary"
	str2, ok2 := a.Version(context.Background())
	require.True(t, ok2)
	require.Equal(t, str1, str2)
}

func TestVersion_RefreshesAfterTTLExpires(t *testing.T) {
	a := New(config.ClaudeCodeConfig{BinaryPath: "/bin/echo"}, protocol.NewFactory(), logger.Default())
	a.versionTTL = time.Millisecond

	_, ok := a.Version(context.Background())
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	a.cfg.BinaryPath = "/nonexistent/agentbridge-test-binary"
	_, ok = a.Version(context.Background())
	require.False(t, ok)
}
