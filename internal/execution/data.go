package execution

import (
	"context"

	"github.com/flowmesh/flowmesh/internal/logging"
	"github.com/flowmesh/flowmesh/pkg/schema"
)

// InputData returns the item batch at the given slot of a channel.
//
// An unconnected channel yields an empty batch, never an error. For a
// connected channel, a slot index beyond the recorded batch count is an
// addressing error, and a slot holding an explicitly nil batch is a distinct
// addressing error. Both signal a caller or engine bug and are fatal to the
// run.
func (c *Context) InputData(inputIndex int, channel string) ([]schema.Item, error) {
	batches, connected := c.connections[channel]
	if !connected {
		return []schema.Item{}, nil
	}
	if inputIndex < 0 || inputIndex >= len(batches) {
		return nil, schema.NewErrorf(schema.ErrCodeIndexRange,
			"input index %d out of range for channel %q (%d slots)",
			inputIndex, channel, len(batches)).
			WithNode(c.node.Name).
			WithDetails(map[string]any{"input_index": inputIndex, "channel": channel})
	}
	if batches[inputIndex] == nil {
		return nil, schema.NewErrorf(schema.ErrCodeUnsetInput,
			"input slot %d of channel %q is unset", inputIndex, channel).
			WithNode(c.node.Name).
			WithDetails(map[string]any{"input_index": inputIndex, "channel": channel})
	}
	return batches[inputIndex], nil
}

// MainInputData returns the first slot of the primary channel.
func (c *Context) MainInputData() ([]schema.Item, error) {
	return c.InputData(0, schema.ChannelMain)
}

// InputSourceData returns the provenance of the data feeding the given slot.
// Missing provenance is an engine invariant violation, always fatal and
// never recoverable at node level.
func (c *Context) InputSourceData(inputIndex int, channel string) (*schema.SourceData, error) {
	if c.executeData == nil || c.executeData.Source == nil {
		return nil, schema.NewError(schema.ErrCodeSourceMissing,
			"source data is missing (engine invariant violation)").WithNode(c.node.Name)
	}
	sources, ok := c.executeData.Source[channel]
	if !ok || inputIndex < 0 || inputIndex >= len(sources) || sources[inputIndex] == nil {
		return nil, schema.NewErrorf(schema.ErrCodeSourceMissing,
			"no source data for slot %d of channel %q", inputIndex, channel).
			WithNode(c.node.Name).
			WithDetails(map[string]any{"input_index": inputIndex, "channel": channel})
	}
	return sources[inputIndex], nil
}

// AddInputData opens a new attempt entry recording the input batches this
// attempt observed and returns the attempt index. Pass that index to
// AddOutputData so the attempt's output lands in the same entry. Recording is
// fire-and-forget relative to node logic.
func (c *Context) AddInputData(ctx context.Context, channel string, batches [][]schema.Item) int {
	input := schema.Connections{channel: batches}
	var source map[string][]*schema.SourceData
	if c.executeData != nil {
		source = c.executeData.Source
	}
	index := c.record.AppendInput(c.node.Name, c.runIndex, input, source)
	logging.LogWith(ctx, c.logger).Debug("recorded input data",
		"node", c.node.Name,
		"channel", channel,
		"attempt_index", index)
	return index
}

// AddOutputData records the output batches this attempt produced and returns
// the attempt index used. attemptIndex is the index AddInputData returned;
// the output merges into that entry so one attempt's input and output
// correlate at a single index. Pass a negative attemptIndex when the node
// recorded no input, which opens a new entry. Reattempts after failure land
// at a new, higher index; prior attempts are never overwritten.
func (c *Context) AddOutputData(ctx context.Context, channel string, attemptIndex int, batches [][]schema.Item) int {
	output := schema.Connections{channel: batches}
	index := c.record.AppendOutput(c.node.Name, attemptIndex, c.runIndex, output)
	logging.LogWith(ctx, c.logger).Debug("recorded output data",
		"node", c.node.Name,
		"channel", channel,
		"attempt_index", index)
	return index
}
