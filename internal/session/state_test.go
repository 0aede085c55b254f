package session

import (
	"encoding/json"
	"testing"
)

func TestState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		name  string
		live  bool
	}{
		{StateIdle, "idle", false},
		{StateConnecting, "connecting", true},
		{StateActive, "active", true},
		{StateClosing, "closing", false},
		{StateErrored, "errored", false},
		{State(42), "State(42)", false},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
		if got := tt.state.Live(); got != tt.live {
			t.Errorf("%s.Live() = %v, want %v", tt.name, got, tt.live)
		}
	}
}

func TestStatus_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Status{State: StateActive, SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got["state"] != "active" {
		t.Errorf("state = %v, want active", got["state"])
	}
	if _, ok := got["started_at"]; ok {
		t.Error("zero started_at should be omitted")
	}
}
