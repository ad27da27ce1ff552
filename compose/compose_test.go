package compose_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pagekit/compose"
	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/parser"
)

// buildDoc builds a PDF whose page i has MediaBox [0 0 w h] from sizes[i]
// and a one-line content stream marking its origin.
func buildDoc(t *testing.T, label string, sizes [][2]int) []byte {
	t.Helper()
	var buf bytes.Buffer
	offs := make(map[int]int64)
	add := func(num int, body string) {
		offs[num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	addStream := func(num int, data string) {
		offs[num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", num, len(data), data)
	}

	buf.WriteString("%PDF-1.7\n")
	kids := ""
	for i := range sizes {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}
	add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	add(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(sizes)))
	for i, sz := range sizes {
		pageNum, contentNum := 3+2*i, 4+2*i
		add(pageNum, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Contents %d 0 R /Resources << >> >>",
			sz[0], sz[1], contentNum))
		addStream(contentNum, marker(label, i))
	}

	maxNum := 2 + 2*len(sizes)
	xrefOff := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", maxNum+1)
	for i := 1; i <= maxNum; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offs[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", maxNum+1, xrefOff)
	return buf.Bytes()
}

func marker(label string, page int) string {
	return fmt.Sprintf("BT (%s-%d) Tj ET", label, page)
}

func mustLoad(t *testing.T, data []byte) *parser.Source {
	t.Helper()
	src, err := parser.Load(context.Background(), data)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	return src
}

// pageContent returns the content stream bytes of page i.
func pageContent(t *testing.T, src *parser.Source, i int) string {
	t.Helper()
	p, ok := src.Page(i)
	if !ok {
		t.Fatalf("page %d missing", i)
	}
	st, ok := src.Doc().Resolve(p.Contents).(*raw.StreamObj)
	if !ok {
		t.Fatalf("page %d has no content stream", i)
	}
	return string(st.RawData())
}

// pageMarkers returns the content of every page in order.
func pageMarkers(t *testing.T, src *parser.Source) []string {
	t.Helper()
	out := make([]string, src.PageCount())
	for i := range out {
		out[i] = pageContent(t, src, i)
	}
	return out
}

// sectionCount counts the intermediate /Pages nodes under the page tree root.
func sectionCount(t *testing.T, src *parser.Source) int {
	t.Helper()
	doc := src.Doc()
	catalog := doc.Resolve(raw.DictValue(doc.Trailer, "Root")).(*raw.DictObj)
	root := doc.Resolve(raw.DictValue(catalog, "Pages")).(*raw.DictObj)
	kids := doc.Resolve(raw.DictValue(root, "Kids")).(*raw.ArrayObj)
	return kids.Len()
}

var letter = [2]int{612, 792}

func sizes(n int, sz [2]int) [][2]int {
	out := make([][2]int, n)
	for i := range out {
		out[i] = sz
	}
	return out
}

func TestMergePageCountAndOrder(t *testing.T) {
	a := buildDoc(t, "A", sizes(3, letter))
	b := buildDoc(t, "B", sizes(5, letter))

	out, err := compose.NewEngine().Merge(context.Background(), [][]byte{a, b})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	src := mustLoad(t, out)
	defer src.Close()

	if src.PageCount() != 8 {
		t.Fatalf("merged page count: got %d, want 8", src.PageCount())
	}
	want := []string{
		marker("A", 0), marker("A", 1), marker("A", 2),
		marker("B", 0), marker("B", 1), marker("B", 2), marker("B", 3), marker("B", 4),
	}
	if diff := cmp.Diff(want, pageMarkers(t, src)); diff != "" {
		t.Fatalf("page order (-want +got):\n%s", diff)
	}
	if n := sectionCount(t, src); n != 1 {
		t.Fatalf("uniform sizes should share one section, got %d", n)
	}
}

func TestMergeRequiresTwoInputs(t *testing.T) {
	a := buildDoc(t, "A", sizes(1, letter))
	for _, bufs := range [][][]byte{nil, {a}} {
		_, err := compose.NewEngine().Merge(context.Background(), bufs)
		var insErr *compose.InsufficientInputsError
		if !errors.As(err, &insErr) {
			t.Fatalf("inputs=%d: got %v", len(bufs), err)
		}
		if insErr.Count != len(bufs) {
			t.Fatalf("count: got %d", insErr.Count)
		}
	}
}

func TestMergeIdentifiesCorruptSource(t *testing.T) {
	a := buildDoc(t, "A", sizes(2, letter))
	_, err := compose.NewEngine().Merge(context.Background(), [][]byte{a, []byte("not a pdf")})
	var corrupt *compose.CorruptDocumentError
	if !errors.As(err, &corrupt) {
		t.Fatalf("got %v", err)
	}
	if corrupt.SourceIndex != 1 {
		t.Fatalf("source index: got %d, want 1", corrupt.SourceIndex)
	}
}

func TestExtractRangeBoundaries(t *testing.T) {
	doc := buildDoc(t, "A", sizes(3, letter))
	e := compose.NewEngine()
	ctx := context.Background()

	invalid := []struct{ start, end int }{
		{0, 1}, {-1, 2}, {2, 1}, {1, 4}, {4, 4},
	}
	for _, c := range invalid {
		_, err := e.ExtractRange(ctx, doc, c.start, c.end)
		var rangeErr *compose.InvalidRangeError
		if !errors.As(err, &rangeErr) {
			t.Fatalf("range [%d,%d]: got %v", c.start, c.end, err)
		}
		if rangeErr.PageCount != 3 {
			t.Fatalf("page count in error: got %d", rangeErr.PageCount)
		}
	}

	out, err := e.ExtractRange(ctx, doc, 1, 3)
	if err != nil {
		t.Fatalf("full range: %v", err)
	}
	src := mustLoad(t, out)
	defer src.Close()
	if src.PageCount() != 3 {
		t.Fatalf("full range page count: got %d", src.PageCount())
	}
	for i := 0; i < 3; i++ {
		if got := pageContent(t, src, i); got != marker("A", i) {
			t.Fatalf("page %d: got %q", i, got)
		}
	}
}

func TestExtractRangeEmptyDocument(t *testing.T) {
	doc := buildDoc(t, "E", nil)
	_, err := compose.NewEngine().ExtractRange(context.Background(), doc, 1, 1)
	var rangeErr *compose.InvalidRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("got %v", err)
	}
	if rangeErr.PageCount != 0 {
		t.Fatalf("page count: got %d", rangeErr.PageCount)
	}
}

func TestExtractSinglePageRange(t *testing.T) {
	doc := buildDoc(t, "A", sizes(3, letter))
	out, err := compose.NewEngine().ExtractRange(context.Background(), doc, 2, 2)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	src := mustLoad(t, out)
	defer src.Close()
	if src.PageCount() != 1 {
		t.Fatalf("page count: got %d", src.PageCount())
	}
	if got := pageContent(t, src, 0); got != marker("A", 1) {
		t.Fatalf("content: got %q", got)
	}
}

func TestExtractPagesPreservesOrderAndDuplicates(t *testing.T) {
	doc := buildDoc(t, "A", sizes(3, letter))
	out, err := compose.NewEngine().ExtractPages(context.Background(), doc, []int{2, 2, 0})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	src := mustLoad(t, out)
	defer src.Close()
	if src.PageCount() != 3 {
		t.Fatalf("page count: got %d", src.PageCount())
	}
	want := []string{marker("A", 2), marker("A", 2), marker("A", 0)}
	if diff := cmp.Diff(want, pageMarkers(t, src)); diff != "" {
		t.Fatalf("extracted pages (-want +got):\n%s", diff)
	}
}

func TestExtractPagesFailsFast(t *testing.T) {
	doc := buildDoc(t, "A", sizes(3, letter))
	out, err := compose.NewEngine().ExtractPages(context.Background(), doc, []int{0, 3})
	if out != nil {
		t.Fatalf("no output bytes expected on validation failure")
	}
	var idxErr *compose.PageIndexError
	if !errors.As(err, &idxErr) {
		t.Fatalf("got %v", err)
	}
	if idxErr.Index != 3 || idxErr.PageCount != 3 {
		t.Fatalf("error fields: %+v", idxErr)
	}
}

func TestGrouperSectionMinimality(t *testing.T) {
	small := [2]int{200, 100}
	doc := buildDoc(t, "A", [][2]int{letter, letter, small, small, letter})
	out, err := compose.NewEngine().ExtractRange(context.Background(), doc, 1, 5)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	src := mustLoad(t, out)
	defer src.Close()

	if src.PageCount() != 5 {
		t.Fatalf("page count: got %d", src.PageCount())
	}
	if n := sectionCount(t, src); n != 3 {
		t.Fatalf("three maximal size runs should yield 3 sections, got %d", n)
	}
	p2, _ := src.Page(2)
	if p2.Width() != 200 || p2.Height() != 100 {
		t.Fatalf("page 2 size: got %vx%v", p2.Width(), p2.Height())
	}
	p4, _ := src.Page(4)
	if p4.Width() != 612 || p4.Height() != 792 {
		t.Fatalf("page 4 size: got %vx%v", p4.Width(), p4.Height())
	}
}

func TestSplitAllRoundTrip(t *testing.T) {
	doc := buildDoc(t, "B", sizes(5, letter))
	outs, err := compose.NewEngine().SplitAll(context.Background(), doc)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(outs) != 5 {
		t.Fatalf("split count: got %d, want 5", len(outs))
	}
	for i, data := range outs {
		src := mustLoad(t, data)
		if src.PageCount() != 1 {
			t.Fatalf("split %d page count: got %d", i, src.PageCount())
		}
		if got := pageContent(t, src, 0); got != marker("B", i) {
			t.Fatalf("split %d content: got %q", i, got)
		}
		src.Close()
	}
}

func TestSplitAllCorruptInput(t *testing.T) {
	_, err := compose.NewEngine().SplitAll(context.Background(), []byte("%PDF-1.7 garbage"))
	var corrupt *compose.CorruptDocumentError
	if !errors.As(err, &corrupt) {
		t.Fatalf("got %v", err)
	}
}
