package protocol

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_FirstSeqIsOne(t *testing.T) {
	f := NewFactory()
	e := f.CreateEvent("s1", EventSessionStarted, nil)
	assert.Equal(t, uint64(1), e.Seq)
}

func TestFactory_SeqIncreasesWithoutGaps(t *testing.T) {
	f := NewFactory()
	var last uint64
	for i := 0; i < 50; i++ {
		e := f.CreateEvent("s1", EventMessageDelta, nil)
		require.Equal(t, last+1, e.Seq)
		last = e.Seq
	}
}

func TestFactory_IndependentCountersPerSession(t *testing.T) {
	f := NewFactory()
	f.CreateEvent("s1", EventSessionStarted, nil)
	f.CreateEvent("s1", EventSessionStarted, nil)
	e := f.CreateEvent("s2", EventSessionStarted, nil)
	assert.Equal(t, uint64(1), e.Seq, "s2's counter must not be influenced by s1")
	assert.Equal(t, uint64(2), f.CurrentSeq("s1"))
}

func TestFactory_ResetSequence(t *testing.T) {
	f := NewFactory()
	f.CreateEvent("s1", EventSessionStarted, nil)
	f.CreateEvent("s1", EventSessionStarted, nil)
	f.ResetSequence("s1")
	e := f.CreateEvent("s1", EventSessionStarted, nil)
	assert.Equal(t, uint64(1), e.Seq)
}

func TestFactory_ResetAllSequences(t *testing.T) {
	f := NewFactory()
	f.CreateEvent("s1", EventSessionStarted, nil)
	f.CreateEvent("s2", EventSessionStarted, nil)
	f.ResetAllSequences()
	assert.Equal(t, uint64(0), f.CurrentSeq("s1"))
	assert.Equal(t, uint64(0), f.CurrentSeq("s2"))
}

func TestFactory_ConcurrentSessionsAreAtomic(t *testing.T) {
	f := NewFactory()
	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			f.CreateEvent("shared", EventMessageDelta, nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(n), f.CurrentSeq("shared"))
}

func TestFactory_MergesData(t *testing.T) {
	f := NewFactory()
	e := f.CreateEvent("s1", EventToolStart, map[string]any{"toolCallId": "tc1"})
	assert.Equal(t, "tc1", e.GetString("toolCallId"))
}
