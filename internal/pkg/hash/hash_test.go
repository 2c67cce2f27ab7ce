package hash

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// createGradientImage creates a gradient test image.
func createGradientImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gray := uint8((x + y) * 255 / (width + height))
			img.Set(x, y, color.RGBA{gray, gray, gray, 255})
		}
	}
	return img
}

func createCheckerImage(width, height, cell int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestPHash_SameBytesSameHash(t *testing.T) {
	data := encodeJPEG(t, createCheckerImage(128, 128, 8), 90)

	h1, err := PHash(data)
	if err != nil {
		t.Fatalf("PHash failed: %v", err)
	}
	h2, err := PHash(append([]byte(nil), data...))
	if err != nil {
		t.Fatalf("PHash failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("identical bytes hashed to %s and %s", h1, h2)
	}
}

func TestPHash_LosslessReencode(t *testing.T) {
	img := createGradientImage(128, 128)

	want, err := PHashImage(img)
	if err != nil {
		t.Fatalf("PHashImage failed: %v", err)
	}
	got, err := PHash(encodePNG(t, img))
	if err != nil {
		t.Fatalf("PHash failed: %v", err)
	}
	if got != want {
		t.Errorf("PNG round trip hashed to %s; want %s", got, want)
	}
}

func TestNewFrameKey(t *testing.T) {
	img := createGradientImage(128, 128)
	jpg := encodeJPEG(t, img, 90)

	k1, err := NewFrameKey(jpg)
	if err != nil {
		t.Fatalf("NewFrameKey failed: %v", err)
	}
	k2, err := NewFrameKey(append([]byte(nil), jpg...))
	if err != nil {
		t.Fatalf("NewFrameKey failed: %v", err)
	}
	if k1 != k2 {
		t.Errorf("identical bytes gave %s and %s", k1, k2)
	}

	// same pixels, different encoding
	k3, err := NewFrameKey(encodePNG(t, img))
	if err != nil {
		t.Fatalf("NewFrameKey failed: %v", err)
	}
	if k3.Digest == k1.Digest {
		t.Error("different encodings share a digest")
	}
	if k3 == k1 {
		t.Error("different encodings share a key")
	}

	if b := k1.Bytes(); len(b) != 16 || !bytes.Equal(b[:8], k1.PHash.Bytes()) {
		t.Errorf("Bytes() = %x", b)
	}
	if _, err := NewFrameKey([]byte("not an image")); err == nil {
		t.Error("expected error for invalid image data")
	}
}

func TestPHash_DistinguishesImages(t *testing.T) {
	h1, err := PHashImage(createGradientImage(128, 128))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := PHashImage(createCheckerImage(128, 128, 16))
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("different images produced identical hashes")
	}
}

func TestPHash_InvalidData(t *testing.T) {
	if _, err := PHash([]byte("not an image")); err == nil {
		t.Error("expected error for invalid image data")
	}
}

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name     string
		h1, h2   ImageHash
		expected int
	}{
		{"identical", 0xFFFF, 0xFFFF, 0},
		{"one bit", 0b1000, 0b0000, 1},
		{"all bits", 0, ^ImageHash(0), 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HammingDistance(tt.h1, tt.h2); got != tt.expected {
				t.Errorf("HammingDistance(%x, %x) = %d; want %d", tt.h1, tt.h2, got, tt.expected)
			}
		})
	}
}

func TestImageHash_Encoding(t *testing.T) {
	h := ImageHash(0xAB)
	if h.String() != "00000000000000ab" {
		t.Errorf("String() = %q", h.String())
	}
	if b := h.Bytes(); len(b) != 8 || b[7] != 0xAB {
		t.Errorf("Bytes() = %x", b)
	}
}

func TestFastHash(t *testing.T) {
	a := FastHash("سلام")
	if len(a) != 16 {
		t.Errorf("FastHash length = %d; want 16", len(a))
	}
	if a != FastHash("سلام") {
		t.Error("FastHash is not deterministic")
	}
	if a == FastHash("سلام ") {
		t.Error("FastHash collided on different input")
	}
}
