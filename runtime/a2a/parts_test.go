package a2a

import (
	"testing"
)

func TestUserMessage(t *testing.T) {
	msg := UserMessage("hello agent")
	if msg.Role != RoleUser {
		t.Errorf("role = %q, want user", msg.Role)
	}
	if msg.Kind != "message" {
		t.Errorf("kind = %q, want message", msg.Kind)
	}
	if got := QueryText(&msg); got != "hello agent" {
		t.Errorf("QueryText = %q", got)
	}
}

func TestQueryText_JoinsTextParts(t *testing.T) {
	msg := Message{
		Role: RoleUser,
		Parts: []Part{
			TextPart("line one"),
			DataPart(map[string]int{"n": 1}),
			TextPart("line two"),
		},
	}
	if got := QueryText(&msg); got != "line one\nline two" {
		t.Errorf("QueryText = %q", got)
	}
}

func TestExtractResponseText_PrefersStatusMessage(t *testing.T) {
	task := &Task{
		Status: TaskStatus{
			State:   TaskStateCompleted,
			Message: &Message{Role: RoleAgent, Parts: []Part{TextPart("from status")}},
		},
		Artifacts: []Artifact{
			{ArtifactID: "artifact-0", Parts: []Part{TextPart("from artifact")}},
		},
	}
	if got := ExtractResponseText(task); got != "from status" {
		t.Errorf("ExtractResponseText = %q, want from status", got)
	}
}

func TestExtractResponseText_FallsBackToArtifacts(t *testing.T) {
	task := &Task{
		Status: TaskStatus{State: TaskStateCompleted},
		Artifacts: []Artifact{
			{ArtifactID: "artifact-0", Parts: []Part{TextPart("part one")}},
			{ArtifactID: "artifact-1", Parts: []Part{TextPart("part two")}},
		},
	}
	if got := ExtractResponseText(task); got != "part one\npart two" {
		t.Errorf("ExtractResponseText = %q", got)
	}
}

func TestExtractResponseData(t *testing.T) {
	task := &Task{
		Artifacts: []Artifact{
			{ArtifactID: "artifact-0", Parts: []Part{TextPart("ignored")}},
			{ArtifactID: "artifact-1", Parts: []Part{DataPart(map[string]any{"k": "v"})}},
		},
	}
	if ExtractResponseData(task) == nil {
		t.Error("ExtractResponseData = nil, want payload")
	}

	empty := &Task{}
	if ExtractResponseData(empty) != nil {
		t.Error("ExtractResponseData on empty task != nil")
	}
}

func TestCollectStream(t *testing.T) {
	ch := make(chan StreamEvent, 4)
	ch <- StreamEvent{StreamingResponse: &StreamingResponseEvent{
		TaskID: "t-1", Parts: []Part{TextPart("hello ")},
	}}
	ch <- StreamEvent{ArtifactUpdate: &TaskArtifactUpdateEvent{
		TaskID:   "t-1",
		Artifact: Artifact{ArtifactID: "artifact-0", Parts: []Part{TextPart("chunk")}},
	}}
	ch <- StreamEvent{StreamingResponse: &StreamingResponseEvent{
		TaskID: "t-1", Parts: []Part{TextPart("world")}, Final: true,
	}}
	close(ch)

	text, artifacts, final := CollectStream(ch)
	if text != "hello world" {
		t.Errorf("text = %q, want %q", text, "hello world")
	}
	if len(artifacts) != 1 {
		t.Errorf("artifacts = %d, want 1", len(artifacts))
	}
	if final == nil || !final.IsFinal() {
		t.Errorf("final = %+v", final)
	}
}
