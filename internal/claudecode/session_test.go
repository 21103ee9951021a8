package claudecode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/agentbridge/internal/protocol"
)

func TestSplitRecordLines_TrailingNewlineDoesNotAdvance(t *testing.T) {
	lines := splitRecordLines("a\nb\nc\n")
	require.Equal(t, []string{"a", "b", "c"}, lines)
}

func TestSplitRecordLines_NoTrailingNewline(t *testing.T) {
	lines := splitRecordLines("a\nb")
	require.Equal(t, []string{"a", "b"}, lines)
}

func TestSplitRecordLines_Empty(t *testing.T) {
	require.Nil(t, splitRecordLines(""))
}

func TestReadAndDispatch_OnlyNewLinesEmitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"user","message":{"content":"hello"}}`+"\n"), 0o644))

	s := newTestSession(t)
	s.filePath = path

	require.NoError(t, s.readAndDispatch())
	first := len(s.history)
	require.Greater(t, first, 0)

	// Re-dispatch with no new content appended: nothing new should emit.
	require.NoError(t, s.readAndDispatch())
	require.Equal(t, first, len(s.history))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"user","message":{"content":"world"}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, s.readAndDispatch())
	require.Greater(t, len(s.history), first)
}

func TestReadAndDispatch_MissingFileIsEndOfStream(t *testing.T) {
	s := newTestSession(t)
	s.filePath = filepath.Join(t.TempDir(), "does-not-exist.jsonl")

	require.NoError(t, s.readAndDispatch())
	select {
	case <-s.historyReady:
	default:
		t.Fatal("expected historyReady to be closed for a missing file")
	}
}

func TestSession_HistoryBoundedAtHalfOnOverflow(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < maxHistory+10; i++ {
		s.emit(protocol.EventCustom, map[string]any{"i": i})
	}
	require.LessOrEqual(t, len(s.history), maxHistory)
	require.GreaterOrEqual(t, len(s.history), maxHistory/2)
	last := s.history[len(s.history)-1]
	require.Equal(t, maxHistory+9, last.Data["i"])
}

func TestSession_OnEventReceivesOnlySubsequentEvents(t *testing.T) {
	s := newTestSession(t)
	s.emit(protocol.EventCustom, map[string]any{"n": 1})

	var received []protocol.Event
	unsub := s.OnEvent(func(e protocol.Event) {
		received = append(received, e)
	})
	defer unsub()

	s.emit(protocol.EventCustom, map[string]any{"n": 2})
	require.Len(t, received, 1)
	require.Equal(t, 2, received[0].Data["n"])
}

func TestSession_OnEventUnsubscribeIsIdempotent(t *testing.T) {
	s := newTestSession(t)
	unsub := s.OnEvent(func(protocol.Event) {})
	unsub()
	unsub()
}

func TestSession_GetHistory_ReturnsSnapshotAfterInitialRead(t *testing.T) {
	s := newTestSession(t)
	s.emit(protocol.EventCustom, nil)
	s.markHistoryReady()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	history := s.GetHistory(ctx)
	require.Len(t, history, 1)
}

func TestSession_SeqStartsAtOneAndIncreasesWithoutGaps(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < 5; i++ {
		s.emit(protocol.EventCustom, nil)
	}
	for i, e := range s.history {
		require.Equal(t, uint64(i+1), e.Seq)
	}
}
