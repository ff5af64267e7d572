// Package execution implements the per-node execution context: the runtime
// object instantiated once for every run of a node. It is the sole surface
// node logic calls to read inputs, resolve parameters and credentials, emit
// outputs, invoke nested workflows, persist binary payloads, deduplicate
// repeated work, and cooperate with cancellation.
//
// A Context is created immediately before a node run and discarded right
// after; it never outlives its run. The run record, binary store, dedup
// ledger, and close registry it references outlive it and are drained or
// read by the scheduler afterward.
package execution

import (
	"log/slog"
	"sync"

	"github.com/flowmesh/flowmesh/internal/binarydata"
	"github.com/flowmesh/flowmesh/internal/credentials"
	"github.com/flowmesh/flowmesh/internal/engine"
	"github.com/flowmesh/flowmesh/internal/expressions"
	"github.com/flowmesh/flowmesh/internal/hooks"
	"github.com/flowmesh/flowmesh/internal/runrecord"
	"github.com/flowmesh/flowmesh/internal/store"
	"github.com/flowmesh/flowmesh/internal/validation"
	"github.com/flowmesh/flowmesh/pkg/schema"
)

// Params carries everything the scheduler injects when constructing a
// Context: identity and addressing state plus one capability per concern.
type Params struct {
	Workflow    *schema.Workflow
	Node        *schema.Node
	Mode        schema.Mode
	ExecutionID string

	// RunIndex is the ordinal of the enclosing workflow run this node
	// executes under.
	RunIndex int

	// InputItems is the node's flattened primary-channel input, immutable
	// for the duration of the run.
	InputItems []schema.Item

	// Connections holds every channel's input batches by slot index.
	Connections schema.Connections

	// ExecuteData binds the node to per-slot source provenance.
	ExecuteData *schema.ExecuteData

	Record    *runrecord.Record
	Evaluator *expressions.Evaluator

	// Validator, when set, checks the node's static parameters against the
	// JSON Schema registered for its type before the run starts.
	Validator *validation.ParameterValidator

	Credentials    credentials.Resolver
	BinaryStore    binarydata.Store
	ProcessedItems store.ProcessedItemStore
	Invoker        Invoker
	Hooks          *hooks.Dispatcher
	Closers        *engine.CloseRegistry
	Resumer        *engine.Resumer

	// CancelSignal is the externally owned cooperative cancellation signal,
	// closed when the execution is cancelled. Optional.
	CancelSignal <-chan struct{}

	// EnvVars and Vars are the additional keys exposed to expressions as the
	// env and vars namespaces.
	EnvVars map[string]any
	Vars    map[string]any

	Logger *slog.Logger
}

// Context is the per-node execution context. Safe for use by a single node
// run; the shared structures it mutates (run record, stores) carry their own
// synchronization.
type Context struct {
	workflow    *schema.Workflow
	node        *schema.Node
	mode        schema.Mode
	executionID string
	runIndex    int

	inputItems  []schema.Item
	connections schema.Connections
	executeData *schema.ExecuteData

	record         *runrecord.Record
	evaluator      *expressions.Evaluator
	credentials    credentials.Resolver
	binaryStore    binarydata.Store
	processedItems store.ProcessedItemStore
	invoker        Invoker
	hooks          *hooks.Dispatcher
	closers        *engine.CloseRegistry
	resumer        *engine.Resumer

	cancelSignal <-chan struct{}
	done         chan struct{}
	doneOnce     sync.Once

	envVars map[string]any
	vars    map[string]any

	logger *slog.Logger
}

// New validates params and constructs a Context. The context registers its
// own teardown with the close registry so one-shot cancellation listeners
// unwind when the run's close functions are drained.
func New(p Params) (*Context, error) {
	if p.Workflow == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is required")
	}
	if p.Node == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "node is required")
	}
	if p.Record == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "run record is required")
	}
	if p.Evaluator == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "expression evaluator is required")
	}
	if p.Validator != nil {
		if err := p.Validator.ValidateParameters(p.Node.Type, p.Node.Parameters); err != nil {
			if ee, ok := err.(*schema.EngineError); ok {
				return nil, ee.WithNode(p.Node.Name)
			}
			return nil, err
		}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Closers == nil {
		p.Closers = engine.NewCloseRegistry()
	}
	if p.Hooks == nil {
		p.Hooks = hooks.NewDispatcher(p.Logger)
	}

	c := &Context{
		workflow:       p.Workflow,
		node:           p.Node,
		mode:           p.Mode,
		executionID:    p.ExecutionID,
		runIndex:       p.RunIndex,
		inputItems:     p.InputItems,
		connections:    p.Connections,
		executeData:    p.ExecuteData,
		record:         p.Record,
		evaluator:      p.Evaluator,
		credentials:    p.Credentials,
		binaryStore:    p.BinaryStore,
		processedItems: p.ProcessedItems,
		invoker:        p.Invoker,
		hooks:          p.Hooks,
		closers:        p.Closers,
		resumer:        p.Resumer,
		cancelSignal:   p.CancelSignal,
		done:           make(chan struct{}),
		envVars:        p.EnvVars,
		vars:           p.Vars,
		logger:         p.Logger,
	}

	if err := c.closers.Register(c.teardown); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"close registry already drained").WithCause(err)
	}
	return c, nil
}

// teardown releases the context's listener goroutines. Runs exactly once via
// the close registry drain.
func (c *Context) teardown() error {
	c.doneOnce.Do(func() { close(c.done) })
	return nil
}

// Node returns the node this context executes.
func (c *Context) Node() *schema.Node { return c.node }

// Workflow returns the enclosing workflow.
func (c *Context) Workflow() *schema.Workflow { return c.workflow }

// Mode returns the execution mode.
func (c *Context) Mode() schema.Mode { return c.mode }

// ExecutionID returns this execution's ID; empty for unsaved executions.
func (c *Context) ExecutionID() string { return c.executionID }

// RunIndex returns the run index this context was constructed for.
func (c *Context) RunIndex() int { return c.runIndex }

// ContinueOnFail reports the node's configured error policy. Node logic, not
// the context, decides whether a caught error becomes an item-level error or
// aborts the run.
func (c *Context) ContinueOnFail() bool {
	return c.node.ContinueOnFail
}

// RegisterCloseFunc appends a deferred cleanup callback, drained in
// registration order at workflow teardown regardless of run outcome.
func (c *Context) RegisterCloseFunc(fn engine.CloseFunc) error {
	return c.closers.Register(fn)
}
