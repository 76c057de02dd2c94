package csv

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrTooLarge is returned (wrapped in an ExtractionError) when an object
// exceeds Options.MaxBytes.
var ErrTooLarge = errors.New("object exceeds size limit")

// decoderFor returns the transformer that turns bytes in the named encoding
// into UTF-8. A leading UTF-8 or UTF-16 BOM always wins over the declared
// encoding and is removed.
func decoderFor(name string) (transform.Transformer, error) {
	var fallback transform.Transformer
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-")) {
	case "", "utf-8", "utf8":
		fallback = encoding.UTF8Validator
	case "utf-16", "utf16", "utf-16le":
		fallback = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	case "utf-16be":
		fallback = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	case "windows-1250", "cp1250":
		fallback = charmap.Windows1250.NewDecoder()
	case "windows-1252", "cp1252":
		fallback = charmap.Windows1252.NewDecoder()
	case "iso-8859-1", "latin1", "latin-1":
		fallback = charmap.ISO8859_1.NewDecoder()
	case "iso-8859-2", "latin2":
		fallback = charmap.ISO8859_2.NewDecoder()
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return unicode.BOMOverride(fallback), nil
}

// capReader fails once more than max bytes have been read. It never
// truncates silently.
type capReader struct {
	r   io.Reader
	max int64
	n   int64
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.max > 0 && c.n > c.max {
		return n, fmt.Errorf("%w (%d bytes)", ErrTooLarge, c.max)
	}
	return n, err
}
