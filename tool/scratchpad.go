package tool

import (
	"fmt"

	"github.com/oru-labs/runloop/core"
)

// ScratchpadTool exposes the run's scratchpad store to the model.
//
// The scratchpad is ancillary working memory scoped to one run: values written
// through this tool never land in the run record or the agent envelope, so
// models can stash intermediate results without polluting durable state.
type ScratchpadTool struct {
	name        string
	description string
}

// NewScratchpadTool creates the scratchpad tool.
//
// Supported operations: read, write, delete, list.
func NewScratchpadTool() *ScratchpadTool {
	return &ScratchpadTool{
		name: "scratchpad",
		description: "Run-scoped working memory. " +
			"Supports operations: read, write, delete, list.",
	}
}

// Name returns the tool identifier.
func (t *ScratchpadTool) Name() string {
	return t.name
}

// Description returns the tool description.
func (t *ScratchpadTool) Description() string {
	return t.description
}

// Parameters returns the JSON schema for tool parameters.
func (t *ScratchpadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"read", "write", "delete", "list"},
				"description": "The scratchpad operation to perform",
			},
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Entry key for read/write/delete operations",
			},
			"value": map[string]interface{}{
				"description": "Value for write operations (any type)",
			},
		},
		"required": []string{"operation"},
	}
}

// Call implements the Tool interface with structured arguments.
func (t *ScratchpadTool) Call(toolCtx *core.ToolContext, args map[string]interface{}) (interface{}, error) {
	pad := toolCtx.Scratchpad()
	if pad == nil {
		return nil, fmt.Errorf("no scratchpad configured for this run")
	}

	operation, ok := args["operation"].(string)
	if !ok {
		return nil, fmt.Errorf("operation parameter is required")
	}

	switch operation {
	case "read":
		return t.handleRead(args, toolCtx, pad)
	case "write":
		return t.handleWrite(args, toolCtx, pad)
	case "delete":
		return t.handleDelete(args, toolCtx, pad)
	case "list":
		return t.handleList(toolCtx, pad)
	default:
		return nil, fmt.Errorf("unknown operation: %s", operation)
	}
}

// handleRead retrieves a value from the scratchpad.
func (t *ScratchpadTool) handleRead(args map[string]interface{}, toolCtx *core.ToolContext, pad core.ScratchpadStore) (interface{}, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, fmt.Errorf("key parameter is required for read operation")
	}

	value, exists := pad.Get(toolCtx.RunID(), key)
	if !exists {
		return map[string]interface{}{
			"key":    key,
			"exists": false,
			"value":  nil,
		}, nil
	}

	return map[string]interface{}{
		"key":    key,
		"exists": true,
		"value":  value,
	}, nil
}

// handleWrite stores a value in the scratchpad.
func (t *ScratchpadTool) handleWrite(args map[string]interface{}, toolCtx *core.ToolContext, pad core.ScratchpadStore) (interface{}, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, fmt.Errorf("key parameter is required for write operation")
	}

	value := args["value"] // Can be any type

	if err := pad.Set(toolCtx.RunID(), key, value); err != nil {
		return nil, fmt.Errorf("failed to write scratchpad entry: %w", err)
	}

	return map[string]interface{}{
		"key":     key,
		"value":   value,
		"success": true,
		"message": fmt.Sprintf("Scratchpad key '%s' written successfully", key),
	}, nil
}

// handleDelete removes a value from the scratchpad.
func (t *ScratchpadTool) handleDelete(args map[string]interface{}, toolCtx *core.ToolContext, pad core.ScratchpadStore) (interface{}, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, fmt.Errorf("key parameter is required for delete operation")
	}

	if err := pad.Delete(toolCtx.RunID(), key); err != nil {
		return nil, fmt.Errorf("failed to delete scratchpad entry: %w", err)
	}

	return map[string]interface{}{
		"key":     key,
		"success": true,
		"message": fmt.Sprintf("Scratchpad key '%s' deleted", key),
	}, nil
}

// handleList enumerates the scratchpad keys for this run.
func (t *ScratchpadTool) handleList(toolCtx *core.ToolContext, pad core.ScratchpadStore) (interface{}, error) {
	keys := pad.Keys(toolCtx.RunID())

	return map[string]interface{}{
		"keys":    keys,
		"count":   len(keys),
		"success": true,
	}, nil
}
