package orchestrator

import (
	"context"
	"fmt"

	"github.com/budprat/agentic-5-sub002/runtime/a2a"
	"github.com/budprat/agentic-5-sub002/runtime/graph"
	"github.com/budprat/agentic-5-sub002/runtime/planner"
	"github.com/budprat/agentic-5-sub002/runtime/registry"
	"github.com/budprat/agentic-5-sub002/runtime/runner"
)

// A2ADispatch builds the runner dispatch over an A2A client: the node's
// agent is resolved through the registry and its query streamed via
// message/stream.
func A2ADispatch(client *a2a.Client, reg *registry.Registry) runner.Dispatch {
	return func(ctx context.Context, node *graph.Node) (<-chan a2a.StreamEvent, error) {
		if node.AgentID == "" {
			return nil, fmt.Errorf("dispatch %s: no agent assigned", node.ID)
		}
		card, err := reg.Get(node.AgentID)
		if err != nil {
			return nil, fmt.Errorf("dispatch %s: %w", node.ID, err)
		}

		msg := a2a.UserMessage(node.Query)
		req := &a2a.SendMessageRequest{Message: msg}
		if node.Timeout > 0 {
			req.Metadata = map[string]any{
				a2a.MetadataTimeoutMS: float64(node.Timeout.Milliseconds()),
			}
		}
		return client.SendMessageStream(ctx, card.Endpoint(), req)
	}
}

// A2APlanner builds the PlanFunc over an A2A client: the planning request
// is sent to the planner endpoint as a data part and the raw plan JSON is
// extracted from the response.
func A2APlanner(client *a2a.Client, endpoint string) PlanFunc {
	return func(ctx context.Context, req planner.Request) ([]byte, error) {
		msg := a2a.Message{
			Role:  a2a.RoleUser,
			Kind:  "message",
			Parts: []a2a.Part{a2a.TextPart(req.Query), a2a.DataPart(req)},
		}
		task, err := client.SendMessage(ctx, endpoint, &a2a.SendMessageRequest{
			Message:       msg,
			Configuration: &a2a.SendConfiguration{Blocking: true},
		})
		if err != nil {
			return nil, fmt.Errorf("planner agent: %w", err)
		}

		if data := a2a.ExtractResponseData(task); len(data) > 0 {
			return data, nil
		}
		// Planner agents may return the plan as a text part.
		if text := a2a.ExtractResponseText(task); text != "" {
			return []byte(text), nil
		}
		return nil, fmt.Errorf("planner agent returned empty task %s", task.ID)
	}
}
