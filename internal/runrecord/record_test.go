package runrecord

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

func TestAppend_StrictlyIncreasingAttemptIndices(t *testing.T) {
	r := New()

	output := schema.Connections{schema.ChannelMain: [][]schema.Item{{{JSON: map[string]any{"n": 1}}}}}

	first := r.AppendOutput("Fetch", -1, 0, output)
	second := r.AppendOutput("Fetch", -1, 0, output)
	third := r.AppendOutput("Fetch", -1, 1, output)

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 2, third)

	// No prior attempt is overwritten.
	runs := r.Runs("Fetch")
	require.Len(t, runs, 3)
	assert.Equal(t, 0, runs[0].RunIndex)
	assert.Equal(t, 1, runs[2].RunIndex)
}

func TestAppend_OutputMergesIntoInputEntry(t *testing.T) {
	r := New()

	input := schema.Connections{schema.ChannelMain: [][]schema.Item{{{JSON: map[string]any{"a": 1}}}}}
	output := schema.Connections{schema.ChannelMain: [][]schema.Item{{{JSON: map[string]any{"b": 2}}}}}

	in := r.AppendInput("Transform", 0, input, nil)
	out := r.AppendOutput("Transform", in, 0, output)

	assert.Equal(t, 0, in)
	assert.Equal(t, in, out, "one attempt's input and output share an index")
	require.Equal(t, 1, r.AttemptCount("Transform"))

	entry := r.Runs("Transform")[0]
	assert.NotNil(t, entry.Input, "merged entry keeps the input")
	assert.NotNil(t, entry.Data, "merged entry carries the output")
	assert.GreaterOrEqual(t, entry.ExecutionTimeMs, int64(0))
}

func TestAppend_MergeAccumulatesChannels(t *testing.T) {
	r := New()

	in := r.AppendInput("Split", 0, schema.Connections{}, nil)
	r.AppendOutput("Split", in, 0, schema.Connections{schema.ChannelMain: [][]schema.Item{{{JSON: map[string]any{"n": 1}}}}})
	r.AppendOutput("Split", in, 0, schema.Connections{"error": [][]schema.Item{{}}})

	require.Equal(t, 1, r.AttemptCount("Split"))
	entry := r.Runs("Split")[0]
	assert.Len(t, entry.Data[schema.ChannelMain], 1)
	assert.Len(t, entry.Data["error"], 1)
}

func TestAppend_ReattemptOpensNewEntry(t *testing.T) {
	r := New()
	output := schema.Connections{}

	first := r.AppendInput("Fetch", 0, schema.Connections{}, nil)
	r.AppendOutput("Fetch", first, 0, output)

	second := r.AppendInput("Fetch", 0, schema.Connections{}, nil)
	got := r.AppendOutput("Fetch", second, 0, output)

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, second, got)
	assert.Equal(t, 2, r.AttemptCount("Fetch"))
}

func TestAppend_NodesAreIsolated(t *testing.T) {
	r := New()
	output := schema.Connections{}

	assert.Equal(t, 0, r.AppendOutput("A", -1, 0, output))
	assert.Equal(t, 0, r.AppendOutput("B", -1, 0, output))
	assert.Equal(t, 1, r.AppendOutput("A", -1, 0, output))
}

func TestAppend_ConcurrentSameNode(t *testing.T) {
	r := New()
	output := schema.Connections{}

	const workers = 50
	indices := make(chan int, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			indices <- r.AppendOutput("Node", -1, 0, output)
		}()
	}
	wg.Wait()
	close(indices)

	seen := make(map[int]bool)
	for idx := range indices {
		assert.False(t, seen[idx], "attempt index %d assigned twice", idx)
		seen[idx] = true
	}
	assert.Len(t, seen, workers)
	assert.Equal(t, workers, r.AttemptCount("Node"))
}

func TestRuns_ReturnsSnapshot(t *testing.T) {
	r := New()
	r.AppendOutput("Node", -1, 0, schema.Connections{})

	runs := r.Runs("Node")
	require.Len(t, runs, 1)

	r.AppendOutput("Node", -1, 0, schema.Connections{})
	assert.Len(t, runs, 1, "snapshot must not grow")
}

func TestLastRun(t *testing.T) {
	r := New()
	assert.Nil(t, r.LastRun("Missing"))

	r.AppendOutput("Node", -1, 0, schema.Connections{})
	r.AppendOutput("Node", -1, 3, schema.Connections{})

	last := r.LastRun("Node")
	require.NotNil(t, last)
	assert.Equal(t, 3, last.RunIndex)
}

func TestSetWaitUntil_OnlyTouchesWaitTimestamp(t *testing.T) {
	r := New()
	r.AppendOutput("Node", -1, 0, schema.Connections{})
	r.SetStatus(schema.ExecutionStatusRunning)

	wake := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.SetWaitUntil(wake)

	got := r.WaitUntil()
	require.NotNil(t, got)
	assert.Equal(t, wake, *got)

	// Everything else untouched.
	assert.Equal(t, schema.ExecutionStatusRunning, r.Status())
	assert.Equal(t, 1, r.AttemptCount("Node"))

	r.ClearWaitUntil()
	assert.Nil(t, r.WaitUntil())
}

func TestWaitUntil_ReturnsCopy(t *testing.T) {
	r := New()
	wake := time.Now().UTC()
	r.SetWaitUntil(wake)

	first := r.WaitUntil()
	*first = first.Add(time.Hour)

	second := r.WaitUntil()
	assert.Equal(t, wake, *second)
}

func TestNodeNames(t *testing.T) {
	r := New()
	r.AppendOutput("A", -1, 0, schema.Connections{})
	r.AppendInput("B", 0, schema.Connections{}, nil)

	names := r.NodeNames()
	assert.ElementsMatch(t, []string{"A", "B"}, names)
}
