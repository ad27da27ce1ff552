package filters_test

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/wudi/pagekit/filters"
	"github.com/wudi/pagekit/ir/raw"
)

func flateCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func TestFlateRoundTrip(t *testing.T) {
	want := bytes.Repeat([]byte("stream data "), 100)
	got, err := filters.FlateDecoder{}.Decode(flateCompress(t, want), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("flate round trip mismatch: %d vs %d bytes", len(got), len(want))
	}
}

func TestFlateWithPNGUpPredictor(t *testing.T) {
	// Two rows of 4 bytes, PNG Up filter. Row 1 raw, row 2 stored as delta.
	raw1 := []byte{10, 20, 30, 40}
	raw2 := []byte{11, 22, 33, 44}
	encoded := []byte{2, 10, 20, 30, 40, 2, 1, 2, 3, 4}

	params := raw.Dict()
	params.Set(raw.NameLiteral("Predictor"), raw.NumberInt(12))
	params.Set(raw.NameLiteral("Columns"), raw.NumberInt(4))

	got, err := filters.FlateDecoder{}.Decode(flateCompress(t, encoded), params)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := append(append([]byte(nil), raw1...), raw2...)
	if !bytes.Equal(got, want) {
		t.Fatalf("png predictor: got %v, want %v", got, want)
	}
}

func TestASCIIHexDecode(t *testing.T) {
	got, err := filters.ASCIIHexDecoder{}.Decode([]byte("48 65 6C6C 6F>garbage"), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != "Hello" {
		t.Fatalf("got %q", got)
	}
	// odd-length input pads a trailing zero nibble
	got, err = filters.ASCIIHexDecoder{}.Decode([]byte("4>"), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, []byte{0x40}) {
		t.Fatalf("odd input: got %v", got)
	}
}

func TestASCII85Decode(t *testing.T) {
	got, err := filters.ASCII85Decoder{}.Decode([]byte("<~87cURDZ~>"), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != "Hello" {
		t.Fatalf("got %q", got)
	}
}

func TestRunLengthDecode(t *testing.T) {
	// literal run "ab", repeat 'c' x4, EOD
	in := []byte{1, 'a', 'b', 254, 'c', 128}
	got, err := filters.RunLengthDecoder{}.Decode(in, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != "abcccc" {
		t.Fatalf("got %q", got)
	}
}

func TestLZWDecodeKnownVector(t *testing.T) {
	// Example from the PDF spec (7.4.4.2): decimal 45 45 45 45 45 65 45 45 45 66.
	in := []byte{0x80, 0x0B, 0x60, 0x50, 0x22, 0x0C, 0x0C, 0x85, 0x01}
	want := []byte{45, 45, 45, 45, 45, 65, 45, 45, 45, 66}
	got, err := filters.LZWDecoder{}.Decode(in, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("lzw: got %x, want %x", got, want)
	}
}

func TestPipelineAppliesChainInOrder(t *testing.T) {
	payload := []byte("chained content")
	compressed := flateCompress(t, payload)
	hexed := make([]byte, 0, len(compressed)*2+1)
	const digits = "0123456789ABCDEF"
	for _, b := range compressed {
		hexed = append(hexed, digits[b>>4], digits[b&0xF])
	}
	hexed = append(hexed, '>')

	p := filters.DefaultPipeline(filters.Limits{})
	got, err := p.Decode(hexed, []string{"ASCIIHexDecode", "FlateDecode"}, nil)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("pipeline output: got %q", got)
	}
}

func TestPipelineRejectsUnknownFilter(t *testing.T) {
	p := filters.DefaultPipeline(filters.Limits{})
	if _, err := p.Decode([]byte("x"), []string{"JBIG2Decode"}, nil); err == nil {
		t.Fatalf("expected unknown filter error")
	}
}

func TestExtractFilters(t *testing.T) {
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Filter"), raw.NameLiteral("FlateDecode"))
	parms := raw.Dict()
	parms.Set(raw.NameLiteral("Predictor"), raw.NumberInt(12))
	dict.Set(raw.NameLiteral("DecodeParms"), parms)

	names, params := filters.ExtractFilters(dict)
	if len(names) != 1 || names[0] != "FlateDecode" {
		t.Fatalf("names: %v", names)
	}
	if len(params) != 1 || params[0] == nil {
		t.Fatalf("params: %v", params)
	}

	arr := raw.Dict()
	arr.Set(raw.NameLiteral("Filter"), raw.NewArray(raw.NameLiteral("ASCII85Decode"), raw.NameLiteral("FlateDecode")))
	names, _ = filters.ExtractFilters(arr)
	if len(names) != 2 || names[0] != "ASCII85Decode" {
		t.Fatalf("array names: %v", names)
	}
}
