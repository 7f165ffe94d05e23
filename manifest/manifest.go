// Package manifest interprets a raw C2PA manifest store (the JSON report
// produced by a c2pa reader) into a verdict: validation status, creator
// claims, edit history and embedded thumbnail. The manifest is untrusted
// input; interpretation never fails, it degrades to an error verdict.
package manifest

import (
	"encoding/json"
	"strings"

	"github.com/veritaslabs/aletheia/protocol"
)

// Interpret parses a manifest store report and derives a verdict from its
// active manifest. Unparseable input yields an error verdict with no
// detail. A parseable report always carries itself as RawManifest unless
// the derived status is none.
func Interpret(raw []byte) *protocol.Verdict {
	var store map[string]any
	if err := json.Unmarshal(raw, &store); err != nil {
		return protocol.ErrorVerdict()
	}

	active := activeManifest(store)
	status := determineStatus(active)
	if !status.Detailed() {
		return &protocol.Verdict{Status: status}
	}

	return &protocol.Verdict{
		Status:      status,
		Claims:      extractClaims(active),
		History:     extractHistory(active),
		Thumbnail:   extractThumbnail(active),
		RawManifest: string(raw),
	}
}

// activeManifest selects the manifest named by active_manifest from the
// manifests map, falling back to the store itself when the report is
// already a flat manifest.
func activeManifest(store map[string]any) map[string]any {
	name, _ := store["active_manifest"].(string)
	if manifests, ok := store["manifests"].(map[string]any); ok {
		if m, ok := manifests[name].(map[string]any); ok {
			return m
		}
	}
	return store
}

func determineStatus(m map[string]any) protocol.Status {
	if vs, ok := m["validation_status"].([]any); ok {
		for _, item := range vs {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			code, _ := entry["code"].(string)
			if strings.Contains(code, "signingCredential.expired") || strings.Contains(code, "expired") {
				return protocol.StatusExpired
			}
			if strings.Contains(code, "invalid") || strings.Contains(code, "failed") {
				return protocol.StatusInvalid
			}
		}
	}

	if sig, ok := m["signature_info"].(map[string]any); ok {
		if validated, ok := sig["validated"].(bool); ok && !validated {
			return protocol.StatusInvalid
		}
	}

	// A claim with no recorded validation failure verifies clean.
	if _, ok := m["claim_generator"]; ok {
		return protocol.StatusValid
	}
	if _, ok := m["assertions"]; ok {
		return protocol.StatusValid
	}

	return protocol.StatusNone
}

func extractClaims(m map[string]any) *protocol.Claims {
	c := protocol.Claims{}

	c.Tool, _ = m["claim_generator"].(string)
	if info, ok := m["claim_generator_info"].(map[string]any); ok {
		if name, ok := info["name"].(string); ok {
			c.Tool = name
			if version, ok := info["version"].(string); ok {
				c.Tool = name + " " + version
			}
		}
	}

	for _, a := range assertions(m) {
		label, _ := a["label"].(string)
		if !strings.Contains(label, "creativeWork") && !strings.Contains(label, "creator") {
			continue
		}
		data, ok := a["data"].(map[string]any)
		if !ok {
			continue
		}
		switch author := data["author"].(type) {
		case []any:
			if len(author) > 0 {
				if first, ok := author[0].(map[string]any); ok {
					c.Creator, _ = first["name"].(string)
				}
			}
		case map[string]any:
			c.Creator, _ = author["name"].(string)
		}
		if strings.Contains(label, "creativeWork") {
			if name, ok := data["name"].(string); ok {
				c.Title = name
			}
		}
	}

	if meta, ok := m["metadata"].(map[string]any); ok {
		c.Date, _ = meta["dateTime"].(string)
	}
	if c.Date == "" {
		if sig, ok := m["signature_info"].(map[string]any); ok {
			c.Date, _ = sig["time"].(string)
		}
	}

	if c.Empty() {
		return nil
	}
	return &c
}

func extractHistory(m map[string]any) []protocol.HistoryEvent {
	var events []protocol.HistoryEvent

	for _, a := range assertions(m) {
		label, _ := a["label"].(string)
		if !strings.Contains(label, "actions") {
			continue
		}
		data, ok := a["data"].(map[string]any)
		if !ok {
			continue
		}
		if actions, ok := data["actions"].([]any); ok {
			for _, item := range actions {
				action, ok := item.(map[string]any)
				if !ok {
					continue
				}
				events = append(events, historyEvent(action))
			}
		} else {
			// Some producers emit a single action object instead of a list.
			events = append(events, historyEvent(data))
		}
	}

	// With no action assertions, the claim generator itself is the one
	// known provenance event.
	if len(events) == 0 {
		if gen, ok := m["claim_generator"].(string); ok {
			var when string
			if meta, ok := m["metadata"].(map[string]any); ok {
				when, _ = meta["dateTime"].(string)
			}
			events = append(events, protocol.HistoryEvent{
				Action:    "created",
				Tool:      gen,
				Timestamp: when,
			})
		}
	}

	return events
}

func historyEvent(action map[string]any) protocol.HistoryEvent {
	e := protocol.HistoryEvent{Action: "unknown", Tool: "Unknown"}
	if s, ok := action["action"].(string); ok {
		e.Action = s
	}
	if s, ok := action["softwareAgent"].(string); ok {
		e.Tool = s
	} else if s, ok := action["digitalSourceType"].(string); ok {
		e.Tool = s
	}
	e.Timestamp, _ = action["when"].(string)
	return e
}

func extractThumbnail(m map[string]any) string {
	for _, a := range assertions(m) {
		label, _ := a["label"].(string)
		if !strings.Contains(label, "thumbnail") {
			continue
		}
		switch data := a["data"].(type) {
		case string:
			return data
		case map[string]any:
			// A reference to another resource; nothing inline to embed.
			if _, ok := data["identifier"]; ok {
				continue
			}
		}
		if u, ok := a["url"].(string); ok && strings.HasPrefix(u, "data:image") {
			if _, b64, ok := strings.Cut(u, ","); ok {
				return b64
			}
		}
	}
	return ""
}

func assertions(m map[string]any) []map[string]any {
	raw, ok := m["assertions"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if a, ok := item.(map[string]any); ok {
			out = append(out, a)
		}
	}
	return out
}
