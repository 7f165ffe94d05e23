package protocol

import (
	"strings"
	"testing"
)

func TestValidate_RequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"verify ok", Message{Action: ActionVerifyImageURL, ImageURL: "https://a/x.jpg"}, false},
		{"verify missing url", Message{Action: ActionVerifyImageURL}, true},
		{"started ok", Message{Action: ActionVerificationStarted, ImageURL: "https://a/x.jpg"}, false},
		{"result ok", Message{Action: ActionShowVerificationResult, ImageURL: "https://a/x.jpg", Result: &Verdict{Status: StatusNone}}, false},
		{"result missing verdict", Message{Action: ActionShowVerificationResult, ImageURL: "https://a/x.jpg"}, true},
		{"error ok", Message{Action: ActionShowVerificationError, ImageURL: "https://a/x.jpg", Error: "fetch failed"}, false},
		{"error missing text", Message{Action: ActionShowVerificationError, ImageURL: "https://a/x.jpg"}, true},
		{"unknown action", Message{Action: "reticulate", ImageURL: "https://a/x.jpg"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate: err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestUnmarshal_RoundTrip(t *testing.T) {
	orig := &Message{
		Action:   ActionShowVerificationResult,
		ImageURL: "https://example.com/photo.jpg",
		Result: &Verdict{
			Status: StatusValid,
			Claims: &Claims{Creator: "Ada", Tool: "Cam 1.0"},
			History: []HistoryEvent{
				{Action: "created", Tool: "Cam 1.0", Timestamp: "2025-01-01T00:00:00Z"},
			},
		},
	}

	data, err := orig.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Action != orig.Action || got.ImageURL != orig.ImageURL {
		t.Errorf("envelope: got %s %s", got.Action, got.ImageURL)
	}
	if got.Result == nil || got.Result.Status != StatusValid {
		t.Fatalf("result: got %+v", got.Result)
	}
	if got.Result.Claims.Creator != "Ada" {
		t.Errorf("claims.creator: got %q", got.Result.Claims.Creator)
	}
	if len(got.Result.History) != 1 || got.Result.History[0].Action != "created" {
		t.Errorf("history: got %+v", got.Result.History)
	}
}

func TestParseVerdict_StripsDetailOnNoneAndError(t *testing.T) {
	for _, status := range []string{"none", "error"} {
		raw := `{"status":"` + status + `","claims":{"creator":"x"},"history":[{"action":"a","tool":"t","timestamp":"s"}],"thumbnail":"AAAA","raw_manifest":"{}"}`
		v, err := ParseVerdict([]byte(raw))
		if err != nil {
			t.Fatalf("ParseVerdict(%s): %v", status, err)
		}
		if v.Claims != nil || v.History != nil || v.Thumbnail != "" || v.RawManifest != "" {
			t.Errorf("%s verdict kept detail: %+v", status, v)
		}
	}
}

func TestParseVerdict_KeepsDetailOnCredentialedStatuses(t *testing.T) {
	for _, status := range []string{"valid", "invalid", "expired"} {
		raw := `{"status":"` + status + `","claims":{"creator":"x"},"raw_manifest":"{}"}`
		v, err := ParseVerdict([]byte(raw))
		if err != nil {
			t.Fatalf("ParseVerdict(%s): %v", status, err)
		}
		if v.Claims == nil || v.Claims.Creator != "x" {
			t.Errorf("%s verdict lost claims: %+v", status, v)
		}
		if v.RawManifest == "" {
			t.Errorf("%s verdict lost raw manifest", status)
		}
	}
}

func TestParseVerdict_UnknownStatus(t *testing.T) {
	_, err := ParseVerdict([]byte(`{"status":"maybe"}`))
	if err == nil || !strings.Contains(err.Error(), "unknown verdict status") {
		t.Fatalf("ParseVerdict: err=%v, want unknown status error", err)
	}
}

func TestStatus_CredentialFound(t *testing.T) {
	found := map[Status]bool{
		StatusValid:   true,
		StatusInvalid: true,
		StatusExpired: true,
		StatusNone:    false,
		StatusError:   false,
	}
	for s, want := range found {
		if got := s.CredentialFound(); got != want {
			t.Errorf("%s.CredentialFound: got %v, want %v", s, got, want)
		}
	}
}
