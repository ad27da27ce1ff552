package writer_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/parser"
	"github.com/wudi/pagekit/writer"
)

func buildDoc() *raw.Document {
	catalog := raw.Dict()
	catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalog.Set(raw.NameLiteral("Pages"), raw.Ref(2, 0))

	pages := raw.Dict()
	pages.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	pages.Set(raw.NameLiteral("Kids"), raw.NewArray(raw.Ref(3, 0)))
	pages.Set(raw.NameLiteral("Count"), raw.NumberInt(1))
	pages.Set(raw.NameLiteral("MediaBox"), raw.NewArray(
		raw.NumberInt(0), raw.NumberInt(0), raw.NumberFloat(595.5), raw.NumberInt(842)))

	page := raw.Dict()
	page.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
	page.Set(raw.NameLiteral("Parent"), raw.Ref(2, 0))
	page.Set(raw.NameLiteral("Contents"), raw.Ref(5, 0))

	contentDict := raw.Dict()
	contentDict.Set(raw.NameLiteral("Length"), raw.NumberInt(999)) // wrong on purpose
	content := raw.NewStream(contentDict, []byte("q 1 0 0 1 0 0 cm Q"))

	trailer := raw.Dict()
	trailer.Set(raw.NameLiteral("Root"), raw.Ref(1, 0))
	trailer.Set(raw.NameLiteral("Prev"), raw.NumberInt(12345)) // must not survive

	return &raw.Document{
		Objects: map[raw.ObjectRef]raw.Object{
			{Num: 1}: catalog,
			{Num: 2}: pages,
			{Num: 3}: page,
			{Num: 5}: content, // 4 left as a free gap
		},
		Trailer: trailer,
		Version: "1.7",
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	data, err := writer.Serialize(buildDoc())
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-1.7\n")) {
		t.Fatalf("missing header: %q", data[:16])
	}

	src, err := parser.Load(context.Background(), data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	defer src.Close()
	if src.PageCount() != 1 {
		t.Fatalf("page count: got %d", src.PageCount())
	}
	p, _ := src.Page(0)
	if p.Width() != 595.5 || p.Height() != 842 {
		t.Fatalf("media box: got %vx%v", p.Width(), p.Height())
	}
	st, ok := src.Doc().Resolve(p.Contents).(*raw.StreamObj)
	if !ok {
		t.Fatalf("contents missing after round trip")
	}
	if string(st.RawData()) != "q 1 0 0 1 0 0 cm Q" {
		t.Fatalf("content bytes: got %q", st.RawData())
	}
}

func TestSerializeRecomputesStreamLength(t *testing.T) {
	data, err := writer.Serialize(buildDoc())
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if bytes.Contains(data, []byte("/Length 999")) {
		t.Fatalf("stale /Length survived serialization")
	}
	if !bytes.Contains(data, []byte("/Length 18")) {
		t.Fatalf("recomputed /Length missing")
	}
}

func TestSerializeDropsStaleTrailerKeys(t *testing.T) {
	data, err := writer.Serialize(buildDoc())
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if bytes.Contains(data, []byte("/Prev")) {
		t.Fatalf("/Prev must not survive a full rewrite")
	}
	if !bytes.Contains(data, []byte("/Size 6")) {
		t.Fatalf("trailer /Size should cover the highest object number")
	}
}

func TestSerializeObjectEscaping(t *testing.T) {
	d := raw.Dict()
	d.Set(raw.NameLiteral("A B/C"), raw.Str([]byte("x(y)\\z\nw")))
	out, err := writer.SerializeObject(raw.ObjectRef{Num: 7}, d)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, "/A#20B#2FC") {
		t.Fatalf("name escaping: %q", s)
	}
	if !strings.Contains(s, `(x\(y\)\\z\nw)`) {
		t.Fatalf("string escaping: %q", s)
	}
}

func TestSerializeFloatFormatting(t *testing.T) {
	arr := raw.NewArray(raw.NumberFloat(0.5), raw.NumberFloat(612), raw.NumberInt(-3))
	out, err := writer.SerializeObject(raw.ObjectRef{Num: 1}, arr)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !strings.Contains(string(out), "[0.5 612 -3]") {
		t.Fatalf("number formatting: %q", out)
	}
}

func TestSerializeHexString(t *testing.T) {
	out, err := writer.SerializeObject(raw.ObjectRef{Num: 1}, raw.HexStringObj{Bytes: []byte{0xDE, 0xAD}})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !strings.Contains(string(out), "<DEAD>") {
		t.Fatalf("hex string: %q", out)
	}
}

func TestSerializeRejectsMissingRoot(t *testing.T) {
	doc := buildDoc()
	doc.Trailer = raw.Dict()
	if _, err := writer.Serialize(doc); err == nil {
		t.Fatalf("expected missing /Root error")
	}
}

func TestSerializeRejectsEmptyDocument(t *testing.T) {
	if _, err := writer.Serialize(&raw.Document{Trailer: raw.Dict()}); err == nil {
		t.Fatalf("expected empty document error")
	}
}
