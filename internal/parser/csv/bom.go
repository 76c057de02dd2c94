package csv

import "strings"

const utf8BOM = "\uFEFF"

// stripBOM removes a BOM left in the first header cell, e.g. a file that was
// saved with a BOM after already being BOM-prefixed.
func stripBOM(s string) string {
	for strings.HasPrefix(s, utf8BOM) {
		s = strings.TrimPrefix(s, utf8BOM)
	}
	return s
}
