package verifier

import "strings"

// sniffWindow is how many leading bytes classification looks at. Twelve
// bytes covers the longest pattern (WebP's RIFF container).
const sniffWindow = 12

// DetectMimeType classifies an image payload by magic numbers, falling
// back to the locator's path extension when the bytes are inconclusive,
// and to image/jpeg when both are. Sniffing wins over the extension, so a
// stale or misleading file name cannot misclassify the payload. Never
// fails on truncated input.
func DetectMimeType(data []byte, locator string) string {
	if mt := sniff(data); mt != "" {
		return mt
	}
	if mt := byExtension(locator); mt != "" {
		return mt
	}
	return "image/jpeg"
}

func sniff(data []byte) string {
	if len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	if len(data) >= 4 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	if len(data) >= sniffWindow && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}
	return ""
}

func byExtension(locator string) string {
	path := locator
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	}
	return ""
}
