package panel

import (
	"strings"
	"testing"

	"github.com/veritaslabs/aletheia/protocol"
)

// recordingHost records Show/Hide calls in order.
type recordingHost struct {
	calls []string
}

func (h *recordingHost) Show(markup string) { h.calls = append(h.calls, "show:"+markup) }
func (h *recordingHost) Hide()              { h.calls = append(h.calls, "hide") }

func kinds(h *recordingHost) []string {
	out := make([]string, len(h.calls))
	for i, c := range h.calls {
		if strings.HasPrefix(c, "show:") {
			out[i] = "show"
		} else {
			out[i] = c
		}
	}
	return out
}

func TestPresent_ReplacesAtomically(t *testing.T) {
	h := &recordingHost{}
	p := New(h)

	p.Present("https://a/x.jpg", &protocol.Verdict{Status: protocol.StatusValid})
	p.Present("https://a/y.jpg", &protocol.Verdict{Status: protocol.StatusNone})

	got := kinds(h)
	want := []string{"show", "hide", "show"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("calls: got %v, want %v", got, want)
	}
	if p.Locator() != "https://a/y.jpg" {
		t.Errorf("Locator: got %q", p.Locator())
	}
}

func TestClose_Idempotent(t *testing.T) {
	h := &recordingHost{}
	p := New(h)

	p.Close() // nothing open: no-op
	p.Present("https://a/x.jpg", &protocol.Verdict{Status: protocol.StatusValid})
	p.Close()
	p.Close() // second close must be safe and silent

	got := kinds(h)
	want := []string{"show", "hide"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("calls: got %v, want %v", got, want)
	}
	if p.Open() {
		t.Error("Open after Close: got true")
	}
}

func TestRender_EscapesUntrustedFields(t *testing.T) {
	v := &protocol.Verdict{
		Status: protocol.StatusValid,
		Claims: &protocol.Claims{
			Creator: `<img src=x onerror=alert(1)>`,
			Title:   `Me & "You" <3`,
		},
		History: []protocol.HistoryEvent{
			{Action: `<script>alert(2)</script>`, Tool: "Editor", Timestamp: "bad-date"},
		},
		RawManifest: `{"note":"<iframe src=evil></iframe>"}`,
	}

	out := Render("https://example.com/photo.jpg", v)

	for _, banned := range []string{"<img src=x", "<script", "<iframe", "onerror="} {
		if strings.Contains(out, banned) {
			t.Errorf("Render output contains live markup %q", banned)
		}
	}
	if !strings.Contains(out, "&lt;img src=x onerror=alert(1)&gt;") {
		t.Error("creator field not rendered as inert text")
	}
	if !strings.Contains(out, "Me &amp; &#34;You&#34; &lt;3") {
		t.Error("title field not escaped")
	}
	// Unparseable timestamps pass through as text.
	if !strings.Contains(out, "bad-date") {
		t.Error("raw timestamp dropped")
	}
}

func TestRender_NoneAndErrorUseFixedCopy(t *testing.T) {
	none := Render("https://a/x.jpg", &protocol.Verdict{Status: protocol.StatusNone})
	if !strings.Contains(none, "No Content Credentials Found") {
		t.Error("none: educational copy missing")
	}
	if strings.Contains(none, "Creator Information") {
		t.Error("none: verdict sections rendered")
	}

	errOut := Render("https://a/x.jpg", &protocol.Verdict{Status: protocol.StatusError})
	if !strings.Contains(errOut, "Error Verifying Image") {
		t.Error("error: educational copy missing")
	}
	if strings.Contains(errOut, "Raw Manifest") {
		t.Error("error: inspector rendered")
	}
}

func TestRender_OmitsAbsentSections(t *testing.T) {
	v := &protocol.Verdict{
		Status: protocol.StatusValid,
		Claims: &protocol.Claims{Creator: "Ada"},
		// no history, no thumbnail, no raw manifest
	}
	out := Render("https://a/x.jpg", v)

	if !strings.Contains(out, "Creator Information") {
		t.Error("creator section missing")
	}
	if strings.Contains(out, "Edit History") {
		t.Error("empty history section rendered")
	}
	if strings.Contains(out, "Visual Comparison") {
		t.Error("thumbnail section rendered without thumbnail")
	}
	if strings.Contains(out, "Raw Manifest") {
		t.Error("inspector rendered without manifest")
	}
	// Absent claim fields are omitted, not rendered empty.
	if strings.Contains(out, "Tool:") || strings.Contains(out, "Date:") {
		t.Error("absent claim fields rendered")
	}
}

func TestRender_ThumbnailComparison(t *testing.T) {
	v := &protocol.Verdict{
		Status:    protocol.StatusExpired,
		Thumbnail: "QUJD",
	}
	out := Render("https://example.com/p.jpg", v)

	if !strings.Contains(out, "Visual Comparison") {
		t.Fatal("thumbnail section missing")
	}
	if !strings.Contains(out, "data:image/jpeg;base64,QUJD") {
		t.Error("embedded thumbnail source missing")
	}
	if !strings.Contains(out, "https://example.com/p.jpg") {
		t.Error("current image source missing")
	}
}

func TestRender_PrettyPrintsManifest(t *testing.T) {
	v := &protocol.Verdict{
		Status:      protocol.StatusValid,
		RawManifest: `{"b":1,"a":[1,2]}`,
	}
	out := Render("https://a/x.jpg", v)
	if !strings.Contains(out, "Raw Manifest Data (Advanced)") {
		t.Fatal("inspector missing")
	}
	// Indented output proves the payload was re-marshalled, not echoed.
	if !strings.Contains(out, "&#34;a&#34;: [") {
		t.Errorf("manifest not pretty-printed: %s", out)
	}
}
