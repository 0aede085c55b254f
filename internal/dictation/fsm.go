package dictation

import "fmt"

// State is the recorder lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
)

type event string

const (
	eventStart       event = "start"
	eventStop        event = "stop"
	eventCancel      event = "cancel"
	eventTranscribed event = "transcribed"
)

// transition returns the state after ev or an error for an illegal move.
func transition(cur State, ev event) (State, error) {
	switch cur {
	case StateIdle:
		if ev == eventStart {
			return StateRecording, nil
		}
	case StateRecording:
		switch ev {
		case eventStop:
			return StateTranscribing, nil
		case eventCancel:
			return StateIdle, nil
		}
	case StateTranscribing:
		if ev == eventTranscribed {
			return StateIdle, nil
		}
	}
	return cur, fmt.Errorf("%w: %s --(%s)--> ?", ErrInvalidState, cur, ev)
}
