package animation

import "fmt"

// EventType tags the kind of external stimulus carried by an Event.
type EventType string

// Event types.
const (
	EventBeat    EventType = "beat"
	EventFFT     EventType = "fft"
	EventMIDI    EventType = "midi"
	EventPointer EventType = "pointer"
	EventTrigger EventType = "trigger"
	EventCustom  EventType = "custom"
)

// MIDIMessage is a raw three byte MIDI message.
type MIDIMessage struct {
	Status uint8 `json:"status"`
	Data1  uint8 `json:"data1"`
	Data2  uint8 `json:"data2"`
}

// PointerRay is a pointer interaction projected into light space.
type PointerRay struct {
	Origin    [3]float64 `json:"origin"`
	Direction [3]float64 `json:"direction"`
	Pressed   bool       `json:"pressed"`
}

// Event is an external stimulus delivered to the active animation. Only the
// fields belonging to Type are set.
type Event struct {
	Type EventType `json:"type"`

	// EventFFT
	Bands    []float64 `json:"bands,omitempty"`
	Waveform []float64 `json:"waveform,omitempty"`

	// EventMIDI
	MIDI *MIDIMessage `json:"midi,omitempty"`

	// EventPointer
	Pointer *PointerRay `json:"pointer,omitempty"`

	// EventTrigger uses ID; EventCustom uses Name and Value.
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// Validate checks that the fields required by Type are present.
func (e Event) Validate() error {
	switch e.Type {
	case EventBeat:
		return nil
	case EventFFT:
		if len(e.Bands) == 0 && len(e.Waveform) == 0 {
			return fmt.Errorf("fft event needs bands or waveform")
		}
	case EventMIDI:
		if e.MIDI == nil {
			return fmt.Errorf("midi event needs a message")
		}
	case EventPointer:
		if e.Pointer == nil {
			return fmt.Errorf("pointer event needs a ray")
		}
	case EventTrigger:
		if e.ID == "" {
			return fmt.Errorf("trigger event needs an id")
		}
	case EventCustom:
		if e.Name == "" {
			return fmt.Errorf("custom event needs a name")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
