// Package filters implements the stream decode pipeline used while parsing.
// Composition never decodes page content streams (they are copied raw); the
// pipeline exists for structural streams (xref streams, object streams) and
// for the preview collaborator.
package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"io"

	"github.com/wudi/pagekit/ir/raw"
)

// Decoder reverses one named PDF filter.
type Decoder interface {
	Name() string
	Decode(input []byte, params raw.Dictionary) ([]byte, error)
}

// Limits bounds decode work for untrusted inputs.
type Limits struct {
	MaxDecompressedSize int64
}

// Pipeline applies a filter chain in order.
type Pipeline struct {
	decoders []Decoder
	limits   Limits
}

func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	return &Pipeline{decoders: decoders, limits: limits}
}

// DefaultPipeline covers the filters this module decodes. DCTDecode and
// JPXDecode are image codecs handled by the preview collaborator, not here.
func DefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		FlateDecoder{},
		LZWDecoder{},
		ASCIIHexDecoder{},
		ASCII85Decoder{},
		RunLengthDecoder{},
	}, limits)
}

func (p *Pipeline) findDecoder(name string) Decoder {
	for _, d := range p.decoders {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

func (p *Pipeline) Decode(input []byte, filterNames []string, params []raw.Dictionary) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, errors.New("unknown filter: " + name)
		}
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(data, param)
		if err != nil {
			return nil, err
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, errors.New("decompressed size exceeds limit")
		}
		data = out
	}
	return data, nil
}

// FlateDecoder implements FlateDecode including DecodeParms predictors.
type FlateDecoder struct{}

func (FlateDecoder) Name() string { return "FlateDecode" }

func (FlateDecoder) Decode(in []byte, params raw.Dictionary) ([]byte, error) {
	var r io.ReadCloser
	var err error
	// PDF FlateDecode streams are zlib-wrapped; tolerate bare deflate too.
	r, err = zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		r = flate.NewReader(bytes.NewReader(in))
	}
	defer r.Close()

	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

// LZWDecoder implements LZWDecode with PDF early-change semantics.
type LZWDecoder struct{}

func (LZWDecoder) Name() string { return "LZWDecode" }

func (LZWDecoder) Decode(in []byte, params raw.Dictionary) ([]byte, error) {
	earlyChange := 1
	if params != nil {
		if v, ok := raw.IntValue(raw.DictValue(params, "EarlyChange")); ok {
			earlyChange = int(v)
		}
	}
	out, err := lzwDecode(in, earlyChange == 1)
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}

// ASCIIHexDecoder implements ASCIIHexDecode.
type ASCIIHexDecoder struct{}

func (ASCIIHexDecoder) Name() string { return "ASCIIHexDecode" }

func (ASCIIHexDecoder) Decode(in []byte, params raw.Dictionary) ([]byte, error) {
	trimmed := make([]byte, 0, len(in))
	for _, c := range in {
		if c == '>' {
			break
		}
		if c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20 {
			continue
		}
		trimmed = append(trimmed, c)
	}
	if len(trimmed)%2 == 1 {
		trimmed = append(trimmed, '0') // odd-length input pads with 0
	}
	result := make([]byte, hex.DecodedLen(len(trimmed)))
	n, err := hex.Decode(result, trimmed)
	if err != nil {
		return nil, err
	}
	return result[:n], nil
}

// ASCII85Decoder implements ASCII85Decode.
type ASCII85Decoder struct{}

func (ASCII85Decoder) Name() string { return "ASCII85Decode" }

func (ASCII85Decoder) Decode(in []byte, params raw.Dictionary) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	trimmed = bytes.TrimPrefix(trimmed, []byte("<~"))
	trimmed = bytes.TrimSuffix(trimmed, []byte("~>"))
	out := make([]byte, len(trimmed)*4/5+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// RunLengthDecoder implements RunLengthDecode.
type RunLengthDecoder struct{}

func (RunLengthDecoder) Name() string { return "RunLengthDecode" }

func (RunLengthDecoder) Decode(in []byte, params raw.Dictionary) ([]byte, error) {
	var out bytes.Buffer
	i := 0
	for i < len(in) {
		l := int(in[i])
		i++
		switch {
		case l == 128: // EOD
			return out.Bytes(), nil
		case l < 128:
			end := i + l + 1
			if end > len(in) {
				return nil, errors.New("runlength literal run truncated")
			}
			out.Write(in[i:end])
			i = end
		default:
			if i >= len(in) {
				return nil, errors.New("runlength repeat run truncated")
			}
			count := 257 - l
			b := in[i]
			i++
			for k := 0; k < count; k++ {
				out.WriteByte(b)
			}
		}
	}
	return out.Bytes(), nil
}

// ExtractFilters reads Filter and DecodeParms entries from a stream dictionary.
func ExtractFilters(dict raw.Dictionary) ([]string, []raw.Dictionary) {
	var names []string
	var params []raw.Dictionary

	filterObj := raw.DictValue(dict, "Filter")
	if filterObj == nil {
		return names, params
	}
	switch f := filterObj.(type) {
	case raw.NameObj:
		names = append(names, f.Val)
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := item.(raw.NameObj); ok {
				names = append(names, n.Val)
			}
		}
	}
	if len(names) == 0 {
		return names, params
	}
	switch p := raw.DictValue(dict, "DecodeParms").(type) {
	case *raw.DictObj:
		params = append(params, p)
	case *raw.ArrayObj:
		for _, item := range p.Items {
			if d, ok := item.(*raw.DictObj); ok {
				params = append(params, d)
			} else {
				params = append(params, nil)
			}
		}
	}
	return names, params
}
