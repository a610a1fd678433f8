package dispatcher

import (
	"context"
	"fmt"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// DispatchTaskSchema and DispatchBatchSchema describe the two dispatcher
// tools bound into every session (they are core swarm behavior, not a
// loadable skill, so they're registered as built-ins rather than requiring
// skill_load).
var DispatchTaskSchema = models.ToolSchema{
	Name:        "dispatch_task",
	Description: "Send a task to another node in the swarm and return its report. Omit target_port to let the swarm pick any available peer.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task":        map[string]any{"type": "string"},
			"target_port": map[string]any{"type": "integer", "description": "optional: pin to a specific peer"},
			"urgent":      map[string]any{"type": "boolean", "description": "preempt the target's current work if it's busy"},
		},
		"required": []string{"task"},
	},
}

var DispatchBatchSchema = models.ToolSchema{
	Name:        "dispatch_batch_tasks",
	Description: "Fan a list of independent tasks out to the swarm concurrently and return their joined reports.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tasks": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"tasks"},
	},
}

// ToolHandlerDispatchTask adapts DispatchTask to the tools.Handler shape.
func (d *Dispatcher) ToolHandlerDispatchTask(ctx context.Context, sessionKey models.SessionKey, args map[string]any) (any, error) {
	task, _ := args["task"].(string)
	if task == "" {
		return nil, models.ToolError("dispatch_task requires task", nil)
	}
	targetPort := 0
	if v, ok := args["target_port"].(float64); ok {
		targetPort = int(v)
	}
	urgent, _ := args["urgent"].(bool)

	return d.DispatchTask(ctx, task, targetPort, urgent)
}

// ToolHandlerDispatchBatch adapts DispatchBatch to the tools.Handler shape.
func (d *Dispatcher) ToolHandlerDispatchBatch(ctx context.Context, sessionKey models.SessionKey, args map[string]any) (any, error) {
	rawTasks, ok := args["tasks"].([]any)
	if !ok || len(rawTasks) == 0 {
		return nil, models.ToolError("dispatch_batch_tasks requires a non-empty tasks array", nil)
	}
	tasks := make([]string, len(rawTasks))
	for i, t := range rawTasks {
		s, ok := t.(string)
		if !ok {
			return nil, models.ToolError(fmt.Sprintf("tasks[%d] is not a string", i), nil)
		}
		tasks[i] = s
	}
	return d.DispatchBatch(ctx, tasks)
}
