package extract

import (
	"errors"
	"unicode/utf8"
)

// ErrNotText is returned when a file routed to the plain-text extractor does
// not hold valid UTF-8.
var ErrNotText = errors.New("content is not valid UTF-8 text")

// extractPlain returns content as a string after validating it is UTF-8.
// Binary files that slip past the extension filter are rejected rather than
// ingested as mojibake.
func extractPlain(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", ErrNotText
	}
	return string(content), nil
}
