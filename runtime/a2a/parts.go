package a2a

import (
	"encoding/json"
	"fmt"
	"strings"
)

// artifactID builds the artifact identifier for the i-th streamed chunk.
func artifactID(i int) string {
	return fmt.Sprintf("artifact-%d", i)
}

// UserMessage builds a user-role message carrying query as a single text
// part.
func UserMessage(query string) Message {
	return Message{
		Role:  RoleUser,
		Parts: []Part{TextPart(query)},
		Kind:  "message",
	}
}

// QueryText extracts the textual content of a message, joining multiple
// text parts with newlines.
func QueryText(msg *Message) string {
	var texts []string
	for _, part := range msg.Parts {
		if part.Kind == PartKindText && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ExtractResponseText extracts text from a settled task. It checks the
// status message first, then artifacts.
func ExtractResponseText(task *Task) string {
	if task.Status.Message != nil {
		if text := QueryText(task.Status.Message); text != "" {
			return text
		}
	}

	var texts []string
	for _, artifact := range task.Artifacts {
		for _, part := range artifact.Parts {
			if part.Kind == PartKindText && part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
	}
	return strings.Join(texts, "\n")
}

// ExtractResponseData returns the first data part of a settled task's
// artifacts, or nil when the task produced no structured payload.
func ExtractResponseData(task *Task) json.RawMessage {
	for _, artifact := range task.Artifacts {
		for _, part := range artifact.Parts {
			if part.Kind == PartKindData && len(part.Data) > 0 {
				return part.Data
			}
		}
	}
	return nil
}

// CollectStream drains a stream event channel and assembles the response:
// concatenated streaming text, accumulated artifacts, and the final event.
// It returns when a final event arrives or the channel closes.
func CollectStream(events <-chan StreamEvent) (text string, artifacts []Artifact, final *StreamEvent) {
	var b strings.Builder

	for evt := range events {
		switch {
		case evt.StreamingResponse != nil:
			for _, part := range evt.StreamingResponse.Parts {
				if part.Kind == PartKindText {
					b.WriteString(part.Text)
				}
			}
		case evt.ArtifactUpdate != nil:
			artifacts = append(artifacts, evt.ArtifactUpdate.Artifact)
		}

		if evt.IsFinal() {
			e := evt
			return b.String(), artifacts, &e
		}
	}
	return b.String(), artifacts, nil
}
