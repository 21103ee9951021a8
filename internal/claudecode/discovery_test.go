package claudecode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeProjectDir(t *testing.T) {
	encoded := encodeProjectDir("/home/dev/myproject")
	if encoded != "-home-dev-myproject" {
		t.Fatalf("unexpected encoding: %q", encoded)
	}
	decoded, ok := decodeProjectDir(encoded)
	require.True(t, ok)
	if decoded != "/home/dev/myproject" {
		t.Fatalf("unexpected decoding: %q", decoded)
	}
}

func TestDecodeProjectDir_RejectsTraversal(t *testing.T) {
	if _, ok := decodeProjectDir("-..-etc-passwd"); ok {
		t.Error("expected traversal-containing path to be rejected")
	}
}

func TestDecodeProjectDir_RejectsMissingLeadingDash(t *testing.T) {
	if _, ok := decodeProjectDir("notdashprefixed"); ok {
		t.Error("expected name without leading dash to be rejected")
	}
}

func TestDiscoverSessions(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, encodeProjectDir("/tmp/proj"))
	require.NoError(t, os.MkdirAll(projectDir, 0o755))

	lines := []string{
		`{"type":"user","cwd":"/tmp/proj","uuid":"u1","message":{"role":"user","content":"<system-reminder>ctx</system-reminder>fix the bug"}}`,
		`{"type":"assistant","message":{"role":"assistant","model":"claude-x","content":[{"type":"text","text":"Sure, looking into it"}]}}`,
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	sessionPath := filepath.Join(projectDir, "sess-1.jsonl")
	require.NoError(t, os.WriteFile(sessionPath, []byte(content), 0o644))

	sessions, err := discoverSessions(root)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	s := sessions[0]
	if s.ID != "sess-1" {
		t.Errorf("unexpected id: %q", s.ID)
	}
	if s.ProjectPath != "/tmp/proj" {
		t.Errorf("unexpected project path: %q", s.ProjectPath)
	}
	if s.DisplayName != "fix the bug" {
		t.Errorf("unexpected display name: %q", s.DisplayName)
	}
	if s.LastMessage != "Sure, looking into it" {
		t.Errorf("unexpected last message: %q", s.LastMessage)
	}
	if s.ModelID != "claude-x" {
		t.Errorf("unexpected model: %q", s.ModelID)
	}
}

func TestDiscoverSessions_SkipsMalformedLines(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, encodeProjectDir("/tmp/proj2"))
	require.NoError(t, os.MkdirAll(projectDir, 0o755))

	content := "not json at all\n" + `{"type":"user","cwd":"/tmp/proj2","message":{"content":"hello there"}}` + "\n"
	sessionPath := filepath.Join(projectDir, "sess-2.jsonl")
	require.NoError(t, os.WriteFile(sessionPath, []byte(content), 0o644))

	sessions, err := discoverSessions(root)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	if sessions[0].DisplayName != "hello there" {
		t.Errorf("unexpected display name: %q", sessions[0].DisplayName)
	}
}

func TestDiscoverSessions_EmptyRootIsNotError(t *testing.T) {
	sessions, err := discoverSessions(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Empty(t, sessions)
}
