package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/budprat/agentic-5-sub002/runtime/a2a"
	"github.com/budprat/agentic-5-sub002/runtime/formatter"
	"github.com/budprat/agentic-5-sub002/runtime/orchestrator"
)

// OrchestratorStreamer exposes the orchestrator as a hosted A2A agent: each
// task streams one orchestration session. The A2A context id keys the session,
// so a follow-up message on the same context resumes a paused session.
type OrchestratorStreamer struct {
	orch *orchestrator.Orchestrator

	mu       sync.Mutex
	sessions map[string]string // contextID -> sessionID
}

// NewOrchestratorStreamer wraps orch for hosting behind an a2a.Server.
func NewOrchestratorStreamer(orch *orchestrator.Orchestrator) *OrchestratorStreamer {
	return &OrchestratorStreamer{
		orch:     orch,
		sessions: make(map[string]string),
	}
}

// Stream runs or resumes the session bound to contextID and translates its
// envelope stream into agent chunks.
func (s *OrchestratorStreamer) Stream(ctx context.Context, query, contextID, _ string) (<-chan a2a.AgentChunk, error) {
	s.mu.Lock()
	sessionID := s.sessions[contextID]
	s.mu.Unlock()

	envs, sid, err := s.orch.Stream(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.sessions[contextID] = sid
	s.mu.Unlock()

	out := make(chan a2a.AgentChunk, 16)
	go func() {
		defer close(out)
		s.forward(ctx, contextID, envs, out)
	}()
	return out, nil
}

func (s *OrchestratorStreamer) forward(ctx context.Context, contextID string, envs <-chan *formatter.Envelope, out chan<- a2a.AgentChunk) {
	for env := range envs {
		chunk, done := convertEnvelope(env)
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
		if done {
			if env.Final {
				s.mu.Lock()
				delete(s.sessions, contextID)
				s.mu.Unlock()
			}
			return
		}
	}
}

// convertEnvelope maps one envelope to a chunk. done reports that the chunk
// settles or pauses the task.
func convertEnvelope(env *formatter.Envelope) (a2a.AgentChunk, bool) {
	if env.Metadata[formatter.MetaInputRequired] == true {
		return a2a.AgentChunk{
			RequireUserInput: true,
			InputPrompt:      envelopeText(env),
		}, true
	}

	if env.Final {
		if code, ok := env.Metadata[formatter.MetaErrorCode].(int); ok {
			return a2a.AgentChunk{
				Err: fmt.Errorf("session failed (%d): %s", code, envelopeText(env)),
			}, true
		}
		return a2a.AgentChunk{
			Text:         envelopeText(env),
			Data:         envelopeData(env),
			TaskComplete: true,
		}, true
	}

	return a2a.AgentChunk{
		Text: envelopeText(env),
		Data: envelopeData(env),
	}, false
}

func envelopeText(env *formatter.Envelope) string {
	var parts []string
	for _, p := range env.Parts {
		if p.Kind == formatter.PartText {
			if s, ok := p.Content.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func envelopeData(env *formatter.Envelope) any {
	for _, p := range env.Parts {
		if p.Kind == formatter.PartData {
			return p.Content
		}
	}
	return nil
}
