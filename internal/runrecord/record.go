// Package runrecord holds the single mutable structure accumulating all node
// run results for one workflow execution. It is shared by reference across
// every node execution context of the execution; writes are partitioned per
// node name so contexts for different nodes never contend on one lock.
package runrecord

import (
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

// TaskData is one attempt entry for a node: the input and output item batches
// it observed and produced, provenance, timing, and error.
type TaskData struct {
	StartedAt       time.Time                       `json:"started_at"`
	ExecutionTimeMs int64                           `json:"execution_time_ms,omitempty"`
	RunIndex        int                             `json:"run_index"`
	Input           schema.Connections              `json:"input,omitempty"`
	Data            schema.Connections              `json:"data,omitempty"`
	Source          map[string][]*schema.SourceData `json:"source,omitempty"`
	Error           *schema.EngineError             `json:"error,omitempty"`
}

// Record is the run execution record. Each node name owns an ordered sequence
// of attempts; attempt indices strictly increase and prior attempts are never
// overwritten. The record also carries the execution's wait-until timestamp
// and status.
type Record struct {
	mu    sync.RWMutex // guards slots map, waitUntil, status
	slots map[string]*nodeSlot

	waitUntil *time.Time
	status    schema.ExecutionStatus
}

type nodeSlot struct {
	mu   sync.Mutex
	runs []*TaskData
}

// New creates an empty record with status "new".
func New() *Record {
	return &Record{
		slots:  make(map[string]*nodeSlot),
		status: schema.ExecutionStatusNew,
	}
}

func (r *Record) slot(node string) *nodeSlot {
	r.mu.RLock()
	s, ok := r.slots[node]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[node]; ok {
		return s
	}
	s = &nodeSlot{}
	r.slots[node] = s
	return s
}

// AppendInput opens a new attempt entry recording the input batches the
// attempt observed. The attempt index is the count of existing attempts for
// the node at call time, computed under the node's lock, and is returned so
// the attempt's output can later be merged into the same entry.
func (r *Record) AppendInput(node string, runIndex int, input schema.Connections, source map[string][]*schema.SourceData) int {
	s := r.slot(node)
	s.mu.Lock()
	defer s.mu.Unlock()

	index := len(s.runs)
	s.runs = append(s.runs, &TaskData{
		StartedAt: time.Now().UTC(),
		RunIndex:  runIndex,
		Input:     input,
		Source:    source,
	})
	return index
}

// AppendOutput records the output batches of a node attempt. When
// attemptIndex addresses an existing entry (the index AppendInput returned),
// the output is merged into that entry so input and output of one attempt
// correlate at a single index, and the entry's elapsed time is stamped. An
// out-of-range attemptIndex opens a new entry; reattempts after failure land
// at a higher index and prior attempts are never overwritten.
func (r *Record) AppendOutput(node string, attemptIndex, runIndex int, output schema.Connections) int {
	s := r.slot(node)
	s.mu.Lock()
	defer s.mu.Unlock()

	if attemptIndex >= 0 && attemptIndex < len(s.runs) {
		entry := s.runs[attemptIndex]
		if entry.Data == nil {
			entry.Data = make(schema.Connections, len(output))
		}
		for channel, batches := range output {
			entry.Data[channel] = append(entry.Data[channel], batches...)
		}
		entry.ExecutionTimeMs = time.Since(entry.StartedAt).Milliseconds()
		return attemptIndex
	}

	index := len(s.runs)
	s.runs = append(s.runs, &TaskData{
		StartedAt: time.Now().UTC(),
		RunIndex:  runIndex,
		Data:      output,
	})
	return index
}

// AttemptCount returns the number of recorded attempts for a node.
func (r *Record) AttemptCount(node string) int {
	s := r.slot(node)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Runs returns a snapshot of the attempt entries for a node, oldest first.
func (r *Record) Runs(node string) []*TaskData {
	s := r.slot(node)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TaskData, len(s.runs))
	copy(out, s.runs)
	return out
}

// LastRun returns the most recent attempt entry for a node, or nil.
func (r *Record) LastRun(node string) *TaskData {
	s := r.slot(node)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return nil
	}
	return s.runs[len(s.runs)-1]
}

// NodeNames returns the names of all nodes with recorded attempts.
func (r *Record) NodeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.slots))
	for name := range r.slots {
		names = append(names, name)
	}
	return names
}

// SetWaitUntil marks the execution as waiting until the given time. No other
// record field is touched.
func (r *Record) SetWaitUntil(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waitUntil = &t
}

// ClearWaitUntil removes the wait timestamp (set on resume).
func (r *Record) ClearWaitUntil() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waitUntil = nil
}

// WaitUntil returns the wait timestamp, or nil when the execution is not waiting.
func (r *Record) WaitUntil() *time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.waitUntil == nil {
		return nil
	}
	t := *r.waitUntil
	return &t
}

// SetStatus updates the execution status.
func (r *Record) SetStatus(status schema.ExecutionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
}

// Status returns the execution status.
func (r *Record) Status() schema.ExecutionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}
