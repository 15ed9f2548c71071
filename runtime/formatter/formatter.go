// Package formatter converts stream events into the canonical response
// envelope emitted to orchestrator callers. Every event kind has a fixed
// mapping; consumers can rely on exactly one envelope with Final=true per
// session.
package formatter

import (
	"encoding/json"
	"fmt"

	"github.com/budprat/agentic-5-sub002/runtime/a2a"
)

// Part kinds in the envelope.
const (
	PartText = "text"
	PartData = "data"
)

// Metadata keys.
const (
	MetaPhase         = "phase"
	MetaNodeID        = "node_id"
	MetaQuality       = "quality"
	MetaInputRequired = "input_required"
	MetaErrorCode     = "error_code"
	MetaCancelled     = "cancelled"
	MetaNodeFinal     = "node_final"
)

// Part is one content fragment of an envelope.
type Part struct {
	Kind    string `json:"kind"`
	Content any    `json:"content"`
}

// ArtifactEntry is one named artifact in an envelope.
type ArtifactEntry struct {
	Name  string `json:"name"`
	Parts []Part `json:"parts"`
}

// Envelope is the canonical response shape on the outgoing stream.
type Envelope struct {
	Final     bool            `json:"final"`
	Parts     []Part          `json:"parts,omitempty"`
	Artifacts []ArtifactEntry `json:"artifacts,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

func newEnvelope(phase, nodeID string) *Envelope {
	meta := map[string]any{MetaPhase: phase}
	if nodeID != "" {
		meta[MetaNodeID] = nodeID
	}
	return &Envelope{Metadata: meta}
}

func convertParts(parts []a2a.Part) []Part {
	out := make([]Part, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case a2a.PartKindText:
			out = append(out, Part{Kind: PartText, Content: p.Text})
		case a2a.PartKindData:
			out = append(out, Part{Kind: PartData, Content: decodeData(p.Data)})
		}
	}
	return out
}

func decodeData(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// FromEvent maps one stream event to an envelope. The phase and node id
// annotate the metadata; nodeID may be empty for session-level events.
func FromEvent(evt a2a.StreamEvent, phase, nodeID string) *Envelope {
	env := newEnvelope(phase, nodeID)

	switch {
	case evt.StreamingResponse != nil:
		env.Final = evt.StreamingResponse.Final
		env.Parts = convertParts(evt.StreamingResponse.Parts)

	case evt.ArtifactUpdate != nil:
		env.Final = evt.ArtifactUpdate.Final
		env.Artifacts = []ArtifactEntry{{
			Name:  evt.ArtifactUpdate.Artifact.Name,
			Parts: convertParts(evt.ArtifactUpdate.Artifact.Parts),
		}}

	case evt.StatusUpdate != nil:
		env.Final = evt.StatusUpdate.Final
		env.Parts = []Part{{Kind: PartText, Content: statusMessage(evt.StatusUpdate)}}

	case evt.InputRequired != nil:
		env.Metadata[MetaInputRequired] = true
		env.Parts = []Part{{Kind: PartText, Content: evt.InputRequired.Prompt}}

	case evt.Error != nil:
		env.Final = true
		env.Metadata[MetaErrorCode] = evt.Error.Code
		env.Parts = []Part{{Kind: PartText, Content: evt.Error.Message}}
	}
	return env
}

func statusMessage(evt *a2a.TaskStatusUpdateEvent) string {
	if evt.Status.Message != nil {
		if text := a2a.QueryText(evt.Status.Message); text != "" {
			return text
		}
	}
	return fmt.Sprintf("task %s is %s", evt.TaskID, evt.Status.State)
}

// Status builds a non-final progress envelope with a plain text message.
func Status(phase, message string) *Envelope {
	env := newEnvelope(phase, "")
	env.Parts = []Part{{Kind: PartText, Content: message}}
	return env
}

// Synthesized builds the single terminal envelope carrying the aggregated
// session result.
func Synthesized(phase, text string, data map[string]any, quality float64) *Envelope {
	env := newEnvelope(phase, "")
	env.Final = true
	env.Metadata[MetaQuality] = quality
	env.Parts = []Part{{Kind: PartText, Content: text}}
	if data != nil {
		env.Parts = append(env.Parts, Part{Kind: PartData, Content: data})
	}
	return env
}

// SessionError builds a terminal envelope for a failed session.
func SessionError(phase, nodeID, message string, code int) *Envelope {
	env := newEnvelope(phase, nodeID)
	env.Final = true
	env.Metadata[MetaErrorCode] = code
	env.Parts = []Part{{Kind: PartText, Content: message}}
	return env
}

// Cancelled builds the terminal envelope for a cancelled session.
func Cancelled(phase string) *Envelope {
	env := newEnvelope(phase, "")
	env.Final = true
	env.Metadata[MetaCancelled] = true
	env.Parts = []Part{{Kind: PartText, Content: "session cancelled"}}
	return env
}
