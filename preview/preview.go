// Package preview produces lightweight page-1 thumbnails for UI lists. It
// never interprets content streams: the scanned-document fast path decodes
// the page's largest image XObject and downscales it; pages without a usable
// image get a blank placeholder with the page's aspect ratio.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/wudi/pagekit/filters"
	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/parser"
)

type Config struct {
	// MaxWidth and MaxHeight bound the thumbnail. Defaults: 256x256.
	MaxWidth  int
	MaxHeight int
}

func (c *Config) defaults() {
	if c.MaxWidth <= 0 {
		c.MaxWidth = 256
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = 256
	}
}

// Thumbnail renders a reduced preview of page 1 of the document in buf.
func Thumbnail(ctx context.Context, buf []byte, cfg Config) (image.Image, error) {
	cfg.defaults()
	src, err := parser.Load(ctx, buf)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	defer src.Close()

	page, ok := src.Page(0)
	if !ok {
		return nil, errors.New("document has no pages")
	}

	if img := largestPageImage(src.Doc(), page); img != nil {
		return scaleToFit(img, cfg.MaxWidth, cfg.MaxHeight), nil
	}
	return placeholder(page.Width(), page.Height(), cfg.MaxWidth, cfg.MaxHeight), nil
}

// WritePNG encodes img as PNG.
func WritePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// largestPageImage finds the image XObject with the greatest pixel area on
// the page and decodes it. Undecodable candidates are skipped.
func largestPageImage(doc *raw.Document, page parser.Page) image.Image {
	resources, ok := doc.Resolve(page.Resources).(*raw.DictObj)
	if !ok {
		return nil
	}
	xobjects, ok := doc.Resolve(raw.DictValue(resources, "XObject")).(*raw.DictObj)
	if !ok {
		return nil
	}

	var best *raw.StreamObj
	var bestArea int64
	for _, key := range xobjects.Keys() {
		entry, _ := xobjects.Get(key)
		st, ok := doc.Resolve(entry).(*raw.StreamObj)
		if !ok {
			continue
		}
		if name, ok := raw.DictValue(st.Dict, "Subtype").(raw.NameObj); !ok || name.Val != "Image" {
			continue
		}
		w, _ := raw.IntValue(doc.Resolve(raw.DictValue(st.Dict, "Width")))
		h, _ := raw.IntValue(doc.Resolve(raw.DictValue(st.Dict, "Height")))
		if area := w * h; area > bestArea {
			best, bestArea = st, area
		}
	}
	if best == nil {
		return nil
	}
	img, err := decodeImageXObject(best)
	if err != nil {
		return nil
	}
	return img
}

func decodeImageXObject(st *raw.StreamObj) (image.Image, error) {
	names, params := filters.ExtractFilters(st.Dict)

	// DCT payloads decode directly as JPEG.
	if len(names) == 1 && names[0] == "DCTDecode" {
		return jpeg.Decode(bytes.NewReader(st.Data))
	}

	data := st.Data
	if len(names) > 0 {
		decoded, err := filters.DefaultPipeline(filters.Limits{}).Decode(data, names, params)
		if err != nil {
			return nil, err
		}
		data = decoded
	}

	w, _ := raw.IntValue(raw.DictValue(st.Dict, "Width"))
	h, _ := raw.IntValue(raw.DictValue(st.Dict, "Height"))
	bpc, _ := raw.IntValue(raw.DictValue(st.Dict, "BitsPerComponent"))
	if w <= 0 || h <= 0 || bpc != 8 {
		return nil, fmt.Errorf("unsupported raw bitmap %dx%d/%d", w, h, bpc)
	}
	cs, _ := raw.DictValue(st.Dict, "ColorSpace").(raw.NameObj)
	switch cs.Val {
	case "DeviceGray":
		if int64(len(data)) < w*h {
			return nil, errors.New("gray bitmap truncated")
		}
		img := image.NewGray(image.Rect(0, 0, int(w), int(h)))
		copy(img.Pix, data[:w*h])
		return img, nil
	case "DeviceRGB":
		if int64(len(data)) < 3*w*h {
			return nil, errors.New("rgb bitmap truncated")
		}
		img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
		for i := int64(0); i < w*h; i++ {
			img.Pix[4*i+0] = data[3*i+0]
			img.Pix[4*i+1] = data[3*i+1]
			img.Pix[4*i+2] = data[3*i+2]
			img.Pix[4*i+3] = 0xFF
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported color space %q", cs.Val)
	}
}

// scaleToFit downscales img to fit within maxW x maxH, preserving aspect.
// Images already within bounds pass through unscaled.
func scaleToFit(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return img
	}
	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}
	dw, dh := int(float64(w)*scale), int(float64(h)*scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// placeholder is a white canvas with the page's aspect ratio.
func placeholder(pageW, pageH float64, maxW, maxH int) image.Image {
	if pageW <= 0 || pageH <= 0 {
		pageW, pageH = 612, 792
	}
	scale := float64(maxW) / pageW
	if s := float64(maxH) / pageH; s < scale {
		scale = s
	}
	w, h := int(pageW*scale), int(pageH*scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}
