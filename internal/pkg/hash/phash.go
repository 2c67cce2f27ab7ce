package hash

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/cespare/xxhash/v2"
	"github.com/corona10/goimagehash"
)

// ImageHash is a 64-bit DCT perceptual hash.
type ImageHash uint64

// PHash decodes an image and computes its perceptual hash. Identical pixels
// always hash to the same value; lossy recompression may move it by several
// bits, so exact-match lookups only catch unchanged frames.
func PHash(data []byte) (ImageHash, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}
	return PHashImage(img)
}

// PHashImage computes the perceptual hash of a decoded image.
func PHashImage(img image.Image) (ImageHash, error) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("failed to compute pHash: %w", err)
	}
	return ImageHash(h.GetHash()), nil
}

// FrameKey identifies an encoded frame by its perceptual hash and the xxhash
// of its bytes. Two frames share a key only when both agree.
type FrameKey struct {
	PHash  ImageHash
	Digest uint64
}

// NewFrameKey hashes an encoded image.
func NewFrameKey(data []byte) (FrameKey, error) {
	h, err := PHash(data)
	if err != nil {
		return FrameKey{}, err
	}
	return FrameKey{PHash: h, Digest: xxhash.Sum64(data)}, nil
}

func (k FrameKey) String() string {
	return fmt.Sprintf("%s:%016x", k.PHash, k.Digest)
}

// Bytes returns the big-endian pHash followed by the digest.
func (k FrameKey) Bytes() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b, uint64(k.PHash))
	binary.BigEndian.PutUint64(b[8:], k.Digest)
	return b
}

// String returns a hex string representation of the hash.
func (h ImageHash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// Bytes returns the big-endian encoding, used as bloom filter input.
func (h ImageHash) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(h))
	return b
}

// HammingDistance calculates the Hamming distance between two hashes.
// Returns the number of different bits (0 = identical images).
func HammingDistance(h1, h2 ImageHash) int {
	xor := uint64(h1 ^ h2)
	count := 0
	for xor != 0 {
		count++
		xor &= xor - 1
	}
	return count
}
