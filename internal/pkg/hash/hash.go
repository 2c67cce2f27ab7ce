package hash

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// Hash returns the hash value of data.
func Hash(data []byte) uint64 {
	return murmur3.Sum64(data)
}

// FastHash returns the xxhash of s as 16 hex digits.
func FastHash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}
