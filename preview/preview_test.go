package preview_test

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"image"
	"testing"

	"github.com/wudi/pagekit/preview"
)

// buildImagePDF builds a one-page PDF whose only content is a flate-coded
// grayscale image XObject of the given pixel size.
func buildImagePDF(t *testing.T, imgW, imgH int) []byte {
	t.Helper()
	pixels := make([]byte, imgW*imgH)
	for i := range pixels {
		pixels[i] = byte(i * 255 / len(pixels))
	}
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(pixels); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var buf bytes.Buffer
	offs := make(map[int]int64)
	add := func(num int, body string) {
		offs[num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	buf.WriteString("%PDF-1.7\n")
	add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	add(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 612 792] >>")
	add(3, "<< /Type /Page /Parent 2 0 R /Resources << /XObject << /Im0 4 0 R >> >> >>")
	offs[4] = int64(buf.Len())
	fmt.Fprintf(&buf,
		"4 0 obj\n<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /FlateDecode /Length %d >>\nstream\n",
		imgW, imgH, compressed.Len())
	buf.Write(compressed.Bytes())
	buf.WriteString("\nendstream\nendobj\n")

	xrefOff := buf.Len()
	buf.WriteString("xref\n0 5\n0000000000 65535 f \n")
	for i := 1; i <= 4; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offs[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 5 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)
	return buf.Bytes()
}

func buildBlankPDF(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	offs := make(map[int]int64)
	add := func(num int, body string) {
		offs[num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	buf.WriteString("%PDF-1.7\n")
	add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	add(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 400 200] >>")
	add(3, "<< /Type /Page /Parent 2 0 R >>")
	xrefOff := buf.Len()
	buf.WriteString("xref\n0 4\n0000000000 65535 f \n")
	for i := 1; i <= 3; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offs[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 4 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)
	return buf.Bytes()
}

func TestThumbnailFromImageXObject(t *testing.T) {
	data := buildImagePDF(t, 512, 256)
	img, err := preview.Thumbnail(context.Background(), data, preview.Config{MaxWidth: 128, MaxHeight: 128})
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 128 || b.Dy() != 64 {
		t.Fatalf("scaled size: got %dx%d, want 128x64", b.Dx(), b.Dy())
	}
}

func TestThumbnailSmallImagePassesThrough(t *testing.T) {
	data := buildImagePDF(t, 16, 16)
	img, err := preview.Thumbnail(context.Background(), data, preview.Config{MaxWidth: 128, MaxHeight: 128})
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if _, ok := img.(*image.Gray); !ok {
		t.Fatalf("small image should pass through undecoded type, got %T", img)
	}
	if img.Bounds().Dx() != 16 {
		t.Fatalf("size: got %d", img.Bounds().Dx())
	}
}

func TestThumbnailPlaceholderKeepsAspect(t *testing.T) {
	img, err := preview.Thumbnail(context.Background(), buildBlankPDF(t), preview.Config{MaxWidth: 100, MaxHeight: 100})
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 100 || b.Dy() != 50 {
		t.Fatalf("placeholder size: got %dx%d, want 100x50", b.Dx(), b.Dy())
	}
}

func TestThumbnailRejectsGarbage(t *testing.T) {
	if _, err := preview.Thumbnail(context.Background(), []byte("junk"), preview.Config{}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestWritePNG(t *testing.T) {
	img, err := preview.Thumbnail(context.Background(), buildBlankPDF(t), preview.Config{})
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	var buf bytes.Buffer
	if err := preview.WritePNG(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("png signature missing")
	}
}
