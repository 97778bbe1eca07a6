package types

import (
	"encoding/json"
	"testing"
)

func TestCloneSharesNoMutableState(t *testing.T) {
	msg := Message{
		ID:   "m1",
		Role: RoleAssistant,
		Parts: []Part{
			TextPart{Text: "hello"},
			ToolPart{ToolCallID: "tc1", ToolName: "bash", Input: []byte(`{"cmd":"ls"}`)},
		},
		Metadata: map[string]any{"type": "note"},
	}

	clone := msg.Clone()
	clone.Parts[0] = TextPart{Text: "mutated"}
	clone.Metadata["type"] = "changed"

	if msg.Parts[0].(TextPart).Text != "hello" {
		t.Error("mutating the clone's parts reached the original")
	}
	if msg.Metadata["type"] != "note" {
		t.Error("mutating the clone's metadata reached the original")
	}
}

func TestTextConcatenatesOnlyTextParts(t *testing.T) {
	msg := Message{
		Parts: []Part{
			ReasoningPart{Text: "thinking"},
			TextPart{Text: "Hello "},
			TextPart{Text: "world"},
		},
	}
	if got := msg.Text(); got != "Hello world" {
		t.Errorf("Text() = %q, want %q", got, "Hello world")
	}
}

func TestPartEnvelopeRoundTrip(t *testing.T) {
	msg := Message{
		ID:   "m1",
		Role: RoleAssistant,
		Parts: []Part{
			TextPart{Text: "answer"},
			ToolPart{
				ToolCallID: "tc1",
				ToolName:   "bash",
				State:      ToolStateOutputAvailable,
				Input:      []byte(`{"cmd":"ls"}`),
				Output:     []byte(`"ok"`),
			},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(decoded.Parts) != 2 {
		t.Fatalf("decoded %d parts, want 2", len(decoded.Parts))
	}
	if _, ok := decoded.Parts[0].(TextPart); !ok {
		t.Errorf("part 0 decoded as %T, want TextPart", decoded.Parts[0])
	}
	tool, ok := decoded.Parts[1].(ToolPart)
	if !ok {
		t.Fatalf("part 1 decoded as %T, want ToolPart", decoded.Parts[1])
	}
	if tool.ToolName != "bash" || tool.State != ToolStateOutputAvailable {
		t.Errorf("tool part = %+v", tool)
	}
}

func TestUnmarshalUnknownPartKindFails(t *testing.T) {
	data := []byte(`{"id":"m1","role":"assistant","parts":[{"kind":"video","body":{}}]}`)
	var msg Message
	if err := json.Unmarshal(data, &msg); err == nil {
		t.Fatal("unknown part kind decoded silently")
	}
}

func TestClonePartPanicsOnUnknownVariant(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("ClonePart accepted an unknown variant")
		}
	}()
	ClonePart(bogusPart{})
}

type bogusPart struct{}

func (bogusPart) Kind() PartKind { return PartKind("bogus") }

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 5}
	u = u.Add(Usage{InputTokens: 1, OutputTokens: 2})
	if u.InputTokens != 11 || u.OutputTokens != 7 {
		t.Errorf("usage = %+v", u)
	}
	if u.Total() != 18 {
		t.Errorf("Total() = %d, want 18", u.Total())
	}
}
