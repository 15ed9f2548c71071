package a2a

import (
	"encoding/json"
	"testing"
)

func TestParseStreamEvent_StatusUpdate(t *testing.T) {
	data := []byte(`{"kind":"status-update","taskId":"t-1","status":{"state":"working"}}`)

	evt, ok := ParseStreamEvent(data)
	if !ok {
		t.Fatal("ParseStreamEvent failed")
	}
	if evt.StatusUpdate == nil {
		t.Fatal("StatusUpdate is nil")
	}
	if evt.StatusUpdate.Status.State != TaskStateWorking {
		t.Errorf("state = %q, want working", evt.StatusUpdate.Status.State)
	}
	if evt.TaskID() != "t-1" {
		t.Errorf("TaskID() = %q, want t-1", evt.TaskID())
	}
	if evt.IsFinal() {
		t.Error("IsFinal() = true for non-final status update")
	}
}

func TestParseStreamEvent_JSONRPCWrapped(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","id":1,"result":{"kind":"status-update","taskId":"t-2","status":{"state":"completed"},"final":true}}`)

	evt, ok := ParseStreamEvent(data)
	if !ok {
		t.Fatal("ParseStreamEvent failed")
	}
	if evt.StatusUpdate == nil {
		t.Fatal("StatusUpdate is nil")
	}
	if !evt.IsFinal() {
		t.Error("IsFinal() = false, want true")
	}
}

func TestParseStreamEvent_ArtifactUpdate(t *testing.T) {
	data := []byte(`{"kind":"artifact-update","taskId":"t-3","artifact":{"artifactId":"artifact-0","parts":[{"kind":"text","text":"chunk"}]},"append":true}`)

	evt, ok := ParseStreamEvent(data)
	if !ok {
		t.Fatal("ParseStreamEvent failed")
	}
	if evt.ArtifactUpdate == nil {
		t.Fatal("ArtifactUpdate is nil")
	}
	if evt.ArtifactUpdate.Artifact.Parts[0].Text != "chunk" {
		t.Errorf("text = %q, want chunk", evt.ArtifactUpdate.Artifact.Parts[0].Text)
	}
}

func TestParseStreamEvent_StreamingResponse(t *testing.T) {
	data := []byte(`{"kind":"streaming-response","taskId":"t-4","parts":[{"kind":"text","text":"answer"}],"final":true}`)

	evt, ok := ParseStreamEvent(data)
	if !ok {
		t.Fatal("ParseStreamEvent failed")
	}
	if evt.StreamingResponse == nil {
		t.Fatal("StreamingResponse is nil")
	}
	if !evt.IsFinal() {
		t.Error("IsFinal() = false, want true")
	}
}

func TestParseStreamEvent_InputRequired(t *testing.T) {
	data := []byte(`{"kind":"input-required","taskId":"t-5","prompt":"need a date range"}`)

	evt, ok := ParseStreamEvent(data)
	if !ok {
		t.Fatal("ParseStreamEvent failed")
	}
	if evt.InputRequired == nil {
		t.Fatal("InputRequired is nil")
	}
	if evt.InputRequired.Prompt != "need a date range" {
		t.Errorf("prompt = %q", evt.InputRequired.Prompt)
	}
	if evt.IsFinal() {
		t.Error("input-required must not be final: it pauses the task")
	}
}

func TestParseStreamEvent_Error(t *testing.T) {
	data := []byte(`{"kind":"error","taskId":"t-6","code":-32603,"message":"agent crashed","recoverable":false,"final":true}`)

	evt, ok := ParseStreamEvent(data)
	if !ok {
		t.Fatal("ParseStreamEvent failed")
	}
	if evt.Error == nil {
		t.Fatal("Error is nil")
	}
	if evt.Error.Recoverable {
		t.Error("Recoverable = true, want false")
	}
	if !evt.IsFinal() {
		t.Error("IsFinal() = false, want true")
	}
}

func TestParseStreamEvent_FieldPresenceFallback(t *testing.T) {
	// Peers that omit "kind" are discriminated by field presence.
	tests := []struct {
		name string
		data string
		pick func(StreamEvent) bool
	}{
		{
			name: "artifact",
			data: `{"taskId":"t-1","artifact":{"artifactId":"a","parts":[]}}`,
			pick: func(e StreamEvent) bool { return e.ArtifactUpdate != nil },
		},
		{
			name: "status",
			data: `{"taskId":"t-1","status":{"state":"working"}}`,
			pick: func(e StreamEvent) bool { return e.StatusUpdate != nil },
		},
		{
			name: "prompt",
			data: `{"taskId":"t-1","prompt":"more input"}`,
			pick: func(e StreamEvent) bool { return e.InputRequired != nil },
		},
		{
			name: "code",
			data: `{"taskId":"t-1","code":-32603,"message":"boom"}`,
			pick: func(e StreamEvent) bool { return e.Error != nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, ok := ParseStreamEvent([]byte(tt.data))
			if !ok {
				t.Fatal("ParseStreamEvent failed")
			}
			if !tt.pick(evt) {
				t.Errorf("wrong variant for %s: %+v", tt.name, evt)
			}
		})
	}
}

func TestParseStreamEvent_Invalid(t *testing.T) {
	for _, data := range []string{
		`not json`,
		`{"unrelated":"object"}`,
		`[1,2,3]`,
	} {
		if _, ok := ParseStreamEvent([]byte(data)); ok {
			t.Errorf("ParseStreamEvent(%q) succeeded, want failure", data)
		}
	}
}

func TestAgentCard_Endpoint(t *testing.T) {
	card := AgentCard{Host: "localhost", Port: 9001}
	if got := card.Endpoint(); got != "http://localhost:9001" {
		t.Errorf("Endpoint() = %q, want http://localhost:9001", got)
	}
}

func TestPartBuilders(t *testing.T) {
	text := TextPart("hello")
	if text.Kind != PartKindText || text.Text != "hello" {
		t.Errorf("TextPart = %+v", text)
	}

	data := DataPart(map[string]int{"score": 7})
	if data.Kind != PartKindData {
		t.Errorf("DataPart kind = %q", data.Kind)
	}
	var decoded map[string]int
	if err := json.Unmarshal(data.Data, &decoded); err != nil {
		t.Fatalf("unmarshal data part: %v", err)
	}
	if decoded["score"] != 7 {
		t.Errorf("score = %d, want 7", decoded["score"])
	}
}

func TestStreamEvent_Payload(t *testing.T) {
	evt := StreamEvent{InputRequired: &InputRequiredEvent{TaskID: "t-1", Prompt: "p"}}
	payload, ok := evt.Payload().(*InputRequiredEvent)
	if !ok {
		t.Fatalf("Payload() type = %T", evt.Payload())
	}
	if payload.TaskID != "t-1" {
		t.Errorf("TaskID = %q", payload.TaskID)
	}

	var empty StreamEvent
	if empty.Payload() != nil {
		t.Error("empty event Payload() != nil")
	}
}
