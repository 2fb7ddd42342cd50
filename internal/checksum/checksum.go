// Package checksum hashes file content for post-copy integrity checks.
package checksum

import (
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// New returns a streaming hash matching File, for hashing bytes while they
// are copied.
func New() hash.Hash64 {
	return xxhash.New()
}

// File streams path through xxhash and returns the digest and byte count.
func File(path string) (uint64, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, n, err
	}

	return h.Sum64(), n, nil
}

func Format(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
