package protocol

import (
	"encoding/json"
	"fmt"
)

// Status is the closed outcome enumeration of one verification attempt.
type Status string

const (
	StatusValid   Status = "valid"   // credential found, signature verified
	StatusExpired Status = "expired" // credential found, signing certificate expired
	StatusInvalid Status = "invalid" // credential found, signature does not verify
	StatusNone    Status = "none"    // no credential structure in the image
	StatusError   Status = "error"   // verification could not be completed
)

// Known reports whether s is one of the five defined statuses.
func (s Status) Known() bool {
	switch s {
	case StatusValid, StatusExpired, StatusInvalid, StatusNone, StatusError:
		return true
	}
	return false
}

// CredentialFound reports whether the engine found and parsed a credential
// structure, regardless of whether it validated. A tampered signature still
// proves a credential was present, so invalid and expired count.
func (s Status) CredentialFound() bool {
	return s == StatusValid || s == StatusInvalid || s == StatusExpired
}

// Detailed reports whether a verdict with this status may carry structured
// detail (claims, history, thumbnail, raw manifest). none and error verdicts
// carry only the status tag.
func (s Status) Detailed() bool {
	return s.CredentialFound()
}

// Claims is the creator information asserted by a credential. Every field
// is optional: absence means "not asserted", not "false".
type Claims struct {
	Title   string `json:"title,omitempty"`
	Creator string `json:"creator,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Date    string `json:"date,omitempty"`
}

// Empty reports whether no field is asserted.
func (c Claims) Empty() bool {
	return c == Claims{}
}

// HistoryEvent is one entry of the credential's edit history, in the order
// the engine produced it. This layer never re-sorts history.
type HistoryEvent struct {
	Action    string `json:"action"`
	Tool      string `json:"tool"`
	Timestamp string `json:"timestamp"`
}

// Verdict is the immutable structured outcome of one verification attempt.
// Verdicts are never cached by locator: every request re-verifies.
type Verdict struct {
	Status      Status         `json:"status"`
	Claims      *Claims        `json:"claims,omitempty"`
	History     []HistoryEvent `json:"history,omitempty"`
	Thumbnail   string         `json:"thumbnail,omitempty"` // base64-encoded embedded image
	RawManifest string         `json:"raw_manifest,omitempty"`
}

// ParseVerdict decodes an engine verdict payload and normalises it to the
// verdict invariant: a none or error verdict carries no structured detail.
// Engines occasionally attach diagnostic text to error verdicts; that detail
// must not reach the page layer, so it is dropped here.
func ParseVerdict(data []byte) (*Verdict, error) {
	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("protocol: parse verdict: %w", err)
	}
	if !v.Status.Known() {
		return nil, fmt.Errorf("protocol: unknown verdict status %q", v.Status)
	}
	if !v.Status.Detailed() {
		v.Claims = nil
		v.History = nil
		v.Thumbnail = ""
		v.RawManifest = ""
	}
	if v.Claims != nil && v.Claims.Empty() {
		v.Claims = nil
	}
	return &v, nil
}

// ErrorVerdict returns the fixed verdict used when verification itself
// failed. It carries no detail beyond the status tag.
func ErrorVerdict() *Verdict {
	return &Verdict{Status: StatusError}
}
