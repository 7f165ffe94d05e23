// Package resolve maps an image locator (the URL string used as the
// cross-context correlation key) back to a concrete image element in a
// document snapshot.
//
// Locators cross the bus as plain strings while the DOM keeps mutating
// underneath, and producers disagree about encoding and relative forms.
// Resolution is therefore exact-match-first with tolerant fallbacks, and a
// miss is an expected, non-fatal outcome: pages replace and remove images
// faster than verification completes.
package resolve

import (
	"net/url"
	"strings"

	"github.com/veritaslabs/aletheia/dom"
)

// Locate finds the image element a locator refers to. Priority order,
// first match wins:
//
//  1. resolve locator and each image's primary and displayed sources
//     against the document base URL, compare exactly
//  2. same comparison after percent-decoding both sides
//  3. raw substring match between the unnormalised responsive candidates
//     and the raw or percent-decoded locator
//
// The boolean is false when nothing matches; callers treat that as
// "nothing to update", never as an error.
func Locate(doc *dom.Document, locator string) (*dom.Image, bool) {
	if doc == nil || locator == "" {
		return nil, false
	}

	abs := normalize(doc.Base, locator)
	for _, img := range doc.Images() {
		if normalize(doc.Base, img.Src) == abs ||
			normalize(doc.Base, img.CurrentSrc) == abs {
			return img, true
		}
	}

	decoded := percentDecode(abs)
	for _, img := range doc.Images() {
		if percentDecode(normalize(doc.Base, img.Src)) == decoded ||
			percentDecode(normalize(doc.Base, img.CurrentSrc)) == decoded {
			return img, true
		}
	}

	rawLoc := locator
	decLoc := percentDecode(locator)
	for _, img := range doc.Images() {
		for _, cand := range img.Srcset {
			if cand == "" {
				continue
			}
			if containsEither(cand, rawLoc) || containsEither(cand, decLoc) {
				return img, true
			}
		}
	}

	return nil, false
}

// normalize resolves s against base into an absolute URL string. A string
// that does not parse is returned untouched; comparison then degrades to
// raw equality instead of failing.
func normalize(base *url.URL, s string) string {
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u.String()
}

// percentDecode undoes percent-encoding, covering producers that decoded a
// locator before normalizing or vice versa. Undecodable input is returned
// as-is.
func percentDecode(s string) string {
	d, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return d
}

// containsEither reports a substring relation in either direction: a CDN
// rewrite usually leaves one form embedded in the other.
func containsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
