// Package overlay owns the visual lifecycle of verification badges: at most
// one badge per image element at any instant. The transition logic is a
// pure function so it is testable without a document; all side effects
// (drawing, positioning) go through the Renderer interface.
package overlay

import (
	"github.com/veritaslabs/aletheia/protocol"
)

// State is a badge's lifecycle state. StateNone means "no badge exists";
// it is both the initial state and the state after dismissal or element
// removal.
type State string

const (
	StateNone          State = "none"
	StateLoading       State = "loading"
	StateValid         State = "valid"
	StateInvalid       State = "invalid"
	StateExpired       State = "expired"
	StateNoCredentials State = "none-found"
	StateError         State = "error"
)

// Verdict reports whether s is one of the five terminal verdict states.
// Only verdict states enable interaction (opening the panel, dismissal).
func (s State) Verdict() bool {
	switch s {
	case StateValid, StateInvalid, StateExpired, StateNoCredentials, StateError:
		return true
	}
	return false
}

// EventKind identifies a transition trigger.
type EventKind string

const (
	// EventStart is a verification-started notification for the element.
	EventStart EventKind = "start"
	// EventResult is a terminal result notification; carries the verdict.
	EventResult EventKind = "result"
	// EventFail is a terminal error notification without a verdict.
	EventFail EventKind = "fail"
	// EventDismiss is the user closing the badge.
	EventDismiss EventKind = "dismiss"
	// EventElementRemoved is the owning image leaving the document.
	EventElementRemoved EventKind = "element_removed"
)

// Event is one transition trigger. Verdict is set for EventResult only.
type Event struct {
	Kind    EventKind
	Verdict *protocol.Verdict
}

// Transition computes the next state for an event. It returns the new
// state and whether the event was accepted; a rejected event leaves the
// state unchanged.
//
// A result or failure is accepted from any state, not just loading: the
// started notification for the same request may have been lost in transit,
// and a late result after supersession repaints the badge; the last
// terminal notification for an element always wins.
func Transition(s State, e Event) (State, bool) {
	switch e.Kind {
	case EventStart:
		return StateLoading, true

	case EventResult:
		if e.Verdict == nil {
			return s, false
		}
		return stateForStatus(e.Verdict.Status), true

	case EventFail:
		return StateError, true

	case EventDismiss:
		// No interaction while loading: the dismiss affordance does not
		// exist yet, so the event is rejected rather than absorbed.
		if !s.Verdict() {
			return s, false
		}
		return StateNone, true

	case EventElementRemoved:
		return StateNone, true
	}
	return s, false
}

func stateForStatus(status protocol.Status) State {
	switch status {
	case protocol.StatusValid:
		return StateValid
	case protocol.StatusInvalid:
		return StateInvalid
	case protocol.StatusExpired:
		return StateExpired
	case protocol.StatusNone:
		return StateNoCredentials
	default:
		return StateError
	}
}
