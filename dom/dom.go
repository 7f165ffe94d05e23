// Package dom models the slice of a page's DOM this system cares about:
// the inventory of image elements and their source candidates. A Document
// is a point-in-time snapshot; page drivers mutate it as the live page
// inserts and removes images.
package dom

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Rect is an element's on-screen geometry in CSS pixels.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Image is one img-like element. The ID is stable for the element's
// lifetime within its document and is the key every per-element state
// machine uses, never the source URL, which is not unique.
type Image struct {
	ID         string
	Src        string   // primary source attribute, raw as authored
	CurrentSrc string   // currently displayed source, raw (best effort for static snapshots)
	Srcset     []string // responsive candidate URLs, raw and unnormalised
	Alt        string
	Rect       Rect
}

// Document is a mutable snapshot of one page's image inventory.
type Document struct {
	Base   *url.URL
	images []*Image
	nextID int
}

// NewDocument creates an empty document anchored at baseURL.
func NewDocument(baseURL string) (*Document, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("dom: parse base URL: %w", err)
	}
	return &Document{Base: base}, nil
}

// Parse builds a Document from an HTML snapshot. Images inside <picture>
// elements inherit the candidate lists of their sibling <source> elements.
func Parse(baseURL string, r io.Reader) (*Document, error) {
	doc, err := NewDocument(baseURL)
	if err != nil {
		return nil, err
	}

	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse html: %w", err)
	}

	collectImages(root, doc, nil)
	return doc, nil
}

// collectImages walks the tree. pictureSrcsets carries candidate lists from
// enclosing <picture><source> elements down to the <img> they apply to.
func collectImages(n *html.Node, doc *Document, pictureSrcsets []string) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript:
			return

		case atom.Picture:
			var srcsets []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.DataAtom == atom.Source {
					if ss := attr(c, "srcset"); ss != "" {
						srcsets = append(srcsets, ParseSrcset(ss)...)
					}
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				collectImages(c, doc, srcsets)
			}
			return

		case atom.Img:
			img := &Image{
				Src: attr(n, "src"),
				Alt: attr(n, "alt"),
			}
			if ss := attr(n, "srcset"); ss != "" {
				img.Srcset = ParseSrcset(ss)
			}
			img.Srcset = append(img.Srcset, pictureSrcsets...)
			img.CurrentSrc = currentSource(img)
			doc.AddImage(img)
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectImages(c, doc, pictureSrcsets)
	}
}

// currentSource approximates the browser's currentSrc for a static
// snapshot: the first responsive candidate when one exists, else src.
func currentSource(img *Image) string {
	if len(img.Srcset) > 0 {
		return img.Srcset[0]
	}
	return img.Src
}

// ParseSrcset extracts candidate URLs from a srcset attribute value,
// dropping width/density descriptors. Kept deliberately raw: the resolver's
// last fallback is a substring scan over these.
func ParseSrcset(s string) []string {
	var out []string
	for _, candidate := range strings.Split(s, ",") {
		fields := strings.Fields(candidate)
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// Images returns the live image inventory in document order.
func (d *Document) Images() []*Image {
	return d.images
}

// ImageByID returns the image with the given ID, or nil.
func (d *Document) ImageByID(id string) *Image {
	for _, img := range d.images {
		if img.ID == id {
			return img
		}
	}
	return nil
}

// AddImage appends an image to the inventory, assigning an ID when the
// caller did not supply one. Used both by Parse and by live drivers when
// the page inserts an image after load.
func (d *Document) AddImage(img *Image) {
	if img.ID == "" {
		img.ID = fmt.Sprintf("img_%04d", d.nextID)
	}
	d.nextID++
	if img.CurrentSrc == "" {
		img.CurrentSrc = currentSource(img)
	}
	d.images = append(d.images, img)
}

// RemoveImage drops an image from the inventory. Reports whether it was
// present.
func (d *Document) RemoveImage(id string) bool {
	for i, img := range d.images {
		if img.ID == id {
			d.images = append(d.images[:i], d.images[i+1:]...)
			return true
		}
	}
	return false
}
