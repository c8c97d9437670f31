package session

import "unicode/utf8"

// TruncatedText is captured output cut down to a byte limit.
type TruncatedText struct {
	Content        string `json:"content"`
	Truncated      bool   `json:"truncated"`
	OriginalLength int    `json:"original_length"`
}

// NewTruncatedText keeps at most limit bytes of b without splitting a
// UTF-8 sequence. A non-positive limit keeps everything.
func NewTruncatedText(b []byte, limit int) TruncatedText {
	t := TruncatedText{OriginalLength: len(b)}
	if limit <= 0 || len(b) <= limit {
		t.Content = string(b)
		return t
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	t.Content = string(b[:cut])
	t.Truncated = true
	return t
}

// String returns the content with a marker when it was truncated.
func (t TruncatedText) String() string {
	if !t.Truncated {
		return t.Content
	}
	return t.Content + "\n[... output truncated ...]"
}
