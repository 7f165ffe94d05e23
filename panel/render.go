package panel

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/veritaslabs/aletheia/protocol"
)

// sanitizer is the final pass over rendered markup. Everything interpolated
// into the panel is escaped first; this allow-list is the backstop that
// guarantees nothing outside the panel's own structural vocabulary survives,
// whatever a manifest producer managed to smuggle into a field.
var sanitizer = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "p", "strong", "ul", "li", "details", "summary",
		"pre", "span", "button", "h2", "img")
	p.AllowAttrs("class", "id").Globally()
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowStandardURLs()
	p.AllowDataURIImages()
	return p
}

var statusText = map[protocol.Status]string{
	protocol.StatusValid:   "Valid Content Credentials - Signature Verified",
	protocol.StatusExpired: "Credentials Found but Certificate Expired",
	protocol.StatusInvalid: "Invalid Signature - Data May Be Tampered",
	protocol.StatusNone:    "No Content Credentials Found",
	protocol.StatusError:   "Error Verifying Image",
}

// Render produces the panel markup for a verdict. Every manifest- or
// user-supplied string is rendered as inert text: the manifest is untrusted
// input from the verified image's producer, not from this system.
func Render(locator string, v *protocol.Verdict) string {
	var b strings.Builder

	b.WriteString(`<div class="aletheia-panel" id="aletheia-panel">`)
	fmt.Fprintf(&b, `<div class="header status-%s"><h2>Content Credentials Verification</h2><p>%s</p>`,
		esc(string(v.Status)), esc(headerText(v.Status)))
	b.WriteString(`<button class="close-btn" id="aletheia-panel-close">&times;</button></div>`)

	b.WriteString(`<div class="content">`)
	switch v.Status {
	case protocol.StatusNone:
		renderNoneMessage(&b)
	case protocol.StatusError:
		renderErrorMessage(&b)
	default:
		renderCreator(&b, v.Claims)
		renderHistory(&b, v.History)
		renderThumbnail(&b, v.Thumbnail, locator)
		renderRawManifest(&b, v.RawManifest)
	}
	b.WriteString(`</div></div>`)

	return sanitizer.Sanitize(b.String())
}

func headerText(s protocol.Status) string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return "Unknown Status"
}

// Fixed educational copy: status none and error render no verdict detail,
// and nothing user-supplied is interpolated here.
func renderNoneMessage(b *strings.Builder) {
	b.WriteString(`<div class="educational-message">` +
		`<p><strong>No Content Credentials Found</strong></p>` +
		`<p>This doesn't mean the image is fake - most images lack credentials because:</p>` +
		`<ul>` +
		`<li>The technology is new (adopted since 2023)</li>` +
		`<li>Social media platforms strip metadata</li>` +
		`<li>Consumer cameras don't support it yet</li>` +
		`</ul>` +
		`<p>Be cautious with unverified images making newsworthy claims.</p>` +
		`</div>`)
}

func renderErrorMessage(b *strings.Builder) {
	b.WriteString(`<div class="educational-message">` +
		`<p><strong>Error Verifying Image</strong></p>` +
		`<p>There was an error processing the image. This could be due to:</p>` +
		`<ul>` +
		`<li>Corrupted image data</li>` +
		`<li>Unsupported image format</li>` +
		`<li>Network error fetching the image</li>` +
		`</ul>` +
		`</div>`)
}

func renderCreator(b *strings.Builder, c *protocol.Claims) {
	if c == nil {
		return
	}
	b.WriteString(`<div class="section"><div class="section-title">Creator Information</div><div class="creator-card">`)
	if c.Title != "" {
		fmt.Fprintf(b, `<p><strong>Title:</strong> %s</p>`, esc(c.Title))
	}
	if c.Creator != "" {
		fmt.Fprintf(b, `<p><strong>Created by:</strong> %s</p>`, esc(c.Creator))
	}
	if c.Tool != "" {
		fmt.Fprintf(b, `<p><strong>Tool:</strong> %s</p>`, esc(c.Tool))
	}
	if c.Date != "" {
		fmt.Fprintf(b, `<p><strong>Date:</strong> %s</p>`, esc(formatDate(c.Date)))
	}
	b.WriteString(`</div></div>`)
}

func renderHistory(b *strings.Builder, events []protocol.HistoryEvent) {
	if len(events) == 0 {
		return
	}
	b.WriteString(`<div class="section"><div class="section-title">Edit History</div><div class="timeline">`)
	for _, e := range events {
		fmt.Fprintf(b, `<div class="timeline-item"><strong>%s</strong><div>%s - %s</div></div>`,
			esc(e.Action), esc(e.Tool), esc(formatDate(e.Timestamp)))
	}
	b.WriteString(`</div></div>`)
}

func renderThumbnail(b *strings.Builder, thumbnail, locator string) {
	if thumbnail == "" {
		return
	}
	b.WriteString(`<div class="section"><div class="section-title">Visual Comparison</div><div class="thumbnail-comparison">`)
	fmt.Fprintf(b, `<div><p>Original Capture</p><img src="data:image/jpeg;base64,%s" alt="Original"></div>`,
		esc(thumbnail))
	fmt.Fprintf(b, `<div><p>Current Version</p><img src="%s" alt="Current"></div>`,
		esc(locator))
	b.WriteString(`</div></div>`)
}

func renderRawManifest(b *strings.Builder, raw string) {
	if raw == "" {
		return
	}
	b.WriteString(`<div class="section"><details><summary>Raw Manifest Data (Advanced)</summary><pre>`)
	b.WriteString(esc(prettyJSON(raw)))
	b.WriteString(`</pre></details></div>`)
}

// prettyJSON re-indents a JSON payload for the inspector; anything that is
// not valid JSON is shown verbatim (escaped by the caller).
func prettyJSON(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return string(out)
}

func formatDate(s string) string {
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2 Jan 2006 15:04 MST")
		}
	}
	return s
}

func esc(s string) string {
	return html.EscapeString(s)
}
