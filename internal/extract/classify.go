package extract

import "unicode/utf8"

// Kind is the classification of blob content.
type Kind int

// Content kinds.
const (
	Text Kind = iota + 1
	Binary
)

// String returns "text" or "binary".
func (k Kind) String() string {
	if k == Text {
		return "text"
	}
	return "binary"
}

// Content is classified blob content.
type Content struct {
	Kind Kind
	Text string // Decoded text; empty for binary content
	Raw  []byte // Original bytes; nil for text content
}

// Classify decides whether data is text (valid UTF-8, including empty
// content) or binary. It never modifies data.
func Classify(data []byte) Content {
	if utf8.Valid(data) {
		return Content{Kind: Text, Text: string(data)}
	}
	return Content{Kind: Binary, Raw: data}
}

// Bytes returns the bytes to write: the encoded text or the raw binary content.
func (c Content) Bytes() []byte {
	if c.Kind == Text {
		return []byte(c.Text)
	}
	return c.Raw
}
