package schema

// ChannelMain is the primary data channel of a node. Side channels carry
// typed control data and are addressed by their own names.
const ChannelMain = "main"

// Item is a single unit of data flowing between nodes. Large payloads live in
// the binary data store and appear here only as references. Err carries an
// item-level error produced under a node's continue-on-fail policy.
type Item struct {
	JSON   map[string]any              `json:"json"`
	Binary map[string]*BinaryReference `json:"binary,omitempty"`
	Err    *EngineError                `json:"error,omitempty"`
}

// BinaryReference points at a payload in the binary data store. The ID is
// opaque and scoped to the execution that produced it; metadata travels with
// the reference so nodes can inspect payloads without fetching bytes.
type BinaryReference struct {
	ID       string `json:"id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Connections maps a channel name to the ordered item batches handed to a
// node, one batch per input slot index.
//
// The two absence cases are distinct: a missing channel key means the channel
// was never connected (reads yield an empty batch, not an error), while a
// present slot holding a nil batch means the value is explicitly unset, which
// is an addressing error.
type Connections map[string][][]Item

// SourceData records which upstream node, output index, and run index
// produced the data feeding an input slot.
type SourceData struct {
	PreviousNode       string `json:"previous_node"`
	PreviousNodeOutput int    `json:"previous_node_output"`
	PreviousNodeRun    int    `json:"previous_node_run"`
}

// ExecuteData is the per-invocation descriptor binding a node to its input
// connections and, per input slot, the provenance of the feeding data.
// Populated source data is an engine invariant; its absence is fatal.
type ExecuteData struct {
	Node   *Node                    `json:"node"`
	Data   Connections              `json:"data"`
	Source map[string][]*SourceData `json:"source,omitempty"`
}
