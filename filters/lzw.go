package filters

import "errors"

// lzwDecode implements the TIFF/PDF LZW variant: MSB-first codes, 8-bit
// literals, clear code 256, EOD 257. With earlyChange the code width grows
// one code earlier than the table strictly requires, which is the PDF
// default and the reason compress/lzw cannot be used directly.
func lzwDecode(in []byte, earlyChange bool) ([]byte, error) {
	const (
		clearCode = 256
		eodCode   = 257
		firstCode = 258
		maxWidth  = 12
	)

	var out []byte
	table := make([][]byte, firstCode, 1<<maxWidth)
	for i := 0; i < 256; i++ {
		table[i] = []byte{byte(i)}
	}
	width := 9
	early := 0
	if earlyChange {
		early = 1
	}

	var bitBuf uint32
	var bitCnt int
	pos := 0
	readCode := func() (int, bool) {
		for bitCnt < width {
			if pos >= len(in) {
				return 0, false
			}
			bitBuf = bitBuf<<8 | uint32(in[pos])
			bitCnt += 8
			pos++
		}
		code := int(bitBuf >> uint(bitCnt-width))
		bitCnt -= width
		bitBuf &= (1 << uint(bitCnt)) - 1
		return code, true
	}

	var prev []byte
	for {
		code, ok := readCode()
		if !ok {
			return out, nil // truncated input ends the stream
		}
		switch {
		case code == clearCode:
			table = table[:firstCode]
			width = 9
			prev = nil
		case code == eodCode:
			return out, nil
		default:
			var entry []byte
			if code < len(table) {
				entry = table[code]
			} else if code == len(table) && prev != nil {
				entry = append(append([]byte(nil), prev...), prev[0])
			} else {
				return nil, errors.New("lzw: invalid code")
			}
			out = append(out, entry...)
			if prev != nil {
				next := append(append([]byte(nil), prev...), entry[0])
				table = append(table, next)
			}
			prev = entry
			if len(table)+early >= 1<<uint(width) && width < maxWidth {
				width++
			}
		}
	}
}
