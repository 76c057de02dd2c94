package upload

import (
	"fmt"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

// HashFile returns the hex xxh3-64 digest of the file at p.
func HashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", p, err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
