package filters

import (
	"errors"

	"github.com/wudi/pagekit/ir/raw"
)

// applyPredictor reverses the TIFF/PNG predictor declared in DecodeParms.
// Xref streams in the wild are almost always PNG-Up coded.
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	predictor, ok := raw.IntValue(raw.DictValue(params, "Predictor"))
	if !ok || predictor <= 1 {
		return data, nil
	}
	colors := int64(1)
	if v, ok := raw.IntValue(raw.DictValue(params, "Colors")); ok {
		colors = v
	}
	bpc := int64(8)
	if v, ok := raw.IntValue(raw.DictValue(params, "BitsPerComponent")); ok {
		bpc = v
	}
	columns := int64(1)
	if v, ok := raw.IntValue(raw.DictValue(params, "Columns")); ok {
		columns = v
	}
	bpp := int((colors*bpc + 7) / 8)           // bytes per pixel
	rowLen := int((colors*bpc*columns + 7) / 8) // bytes per row, sans tag
	if bpp <= 0 || rowLen <= 0 {
		return nil, errors.New("predictor: invalid decode parms")
	}

	if predictor == 2 {
		return applyTIFFPredictor(data, bpp, rowLen)
	}
	if predictor >= 10 && predictor <= 15 {
		return applyPNGPredictor(data, bpp, rowLen)
	}
	return nil, errors.New("predictor: unsupported value")
}

func applyTIFFPredictor(data []byte, bpp, rowLen int) ([]byte, error) {
	if len(data)%rowLen != 0 {
		return nil, errors.New("predictor: data not row-aligned")
	}
	out := append([]byte(nil), data...)
	for row := 0; row < len(out); row += rowLen {
		for i := bpp; i < rowLen; i++ {
			out[row+i] += out[row+i-bpp]
		}
	}
	return out, nil
}

// applyPNGPredictor reverses per-row PNG filters (RFC 2083): each row is
// prefixed with a filter-type byte.
func applyPNGPredictor(data []byte, bpp, rowLen int) ([]byte, error) {
	stride := rowLen + 1
	if len(data)%stride != 0 {
		return nil, errors.New("predictor: data not row-aligned")
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		ft := data[r*stride]
		copy(cur, data[r*stride+1:(r+1)*stride])
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				var left byte
				if i >= bpp {
					left = cur[i-bpp]
				}
				cur[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = cur[i-bpp]
					upLeft = prev[i-bpp]
				}
				cur[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, errors.New("predictor: unknown png filter type")
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
