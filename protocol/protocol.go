// Package protocol defines the message contract between the orchestrator
// context and page contexts. These are the public API types: any page driver
// or transport imports this package to exchange verification traffic.
//
// Messages are flat tagged records. Delivery is asynchronous and may be
// lossy (a detached page silently drops its mail), so no message may carry
// state that another message depends on for correctness: every message is
// self-describing and keyed by the image URL it concerns.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Action tags a Message.
type Action string

const (
	// ActionVerifyImageURL requests verification of an image. Page → orchestrator.
	ActionVerifyImageURL Action = "verifyImageUrl"
	// ActionVerificationStarted notifies that a request was accepted and
	// work began. Orchestrator → page, always before the terminal message
	// of the same request.
	ActionVerificationStarted Action = "verificationStarted"
	// ActionShowVerificationResult carries the terminal verdict. Orchestrator → page.
	ActionShowVerificationResult Action = "showVerificationResult"
	// ActionShowVerificationError carries a human-readable failure message.
	// Orchestrator → page. Never contains raw bytes or internal detail.
	ActionShowVerificationError Action = "showVerificationError"
)

// Message is the unit of cross-context communication.
type Message struct {
	Action   Action   `json:"action"`
	ImageURL string   `json:"imageUrl"`
	Result   *Verdict `json:"result,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Validate checks the action tag and the payload fields required by it.
func (m *Message) Validate() error {
	switch m.Action {
	case ActionVerifyImageURL, ActionVerificationStarted:
		if m.ImageURL == "" {
			return fmt.Errorf("protocol: %s requires imageUrl", m.Action)
		}
	case ActionShowVerificationResult:
		if m.ImageURL == "" {
			return fmt.Errorf("protocol: %s requires imageUrl", m.Action)
		}
		if m.Result == nil {
			return fmt.Errorf("protocol: %s requires result", m.Action)
		}
	case ActionShowVerificationError:
		if m.ImageURL == "" {
			return fmt.Errorf("protocol: %s requires imageUrl", m.Action)
		}
		if m.Error == "" {
			return fmt.Errorf("protocol: %s requires error", m.Action)
		}
	default:
		return fmt.Errorf("protocol: unknown action %q", m.Action)
	}
	return nil
}

// Marshal encodes a message for the wire.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes and validates a wire message.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
