// Package xref locates and parses cross-reference information: classic
// tables, xref streams, hybrid files and incremental-update chains. When the
// structure is too damaged to follow, a full-file repair scan reconstructs
// object offsets from object headers.
package xref

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/wudi/pagekit/filters"
	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/recovery"
	"github.com/wudi/pagekit/scanner"
)

// Table holds object locations for one resolved document.
type Table interface {
	Lookup(objNum int) (offset int64, gen int, found bool)
	ObjStream(objNum int) (streamNum int, idx int, ok bool)
	Objects() []int
	Type() string
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (Table, error)
	Trailer() raw.Dictionary
}

type ResolverConfig struct {
	// MaxXRefDepth bounds /Prev chains; incremental updates beyond this
	// depth indicate a corrupt or adversarial file.
	MaxXRefDepth int
	Recovery     recovery.Strategy
}

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 64
	}
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.Strict{}
	}
	return &resolver{cfg: cfg}
}

type entry struct {
	offset int64
	gen    int
}

type objStreamEntry struct {
	stream int
	idx    int
}

type table struct {
	entries map[int]entry
	objstm  map[int]objStreamEntry
	kind    string
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.objstm[objNum]
	if !ok {
		return 0, 0, false
	}
	return e.stream, e.idx, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries)+len(t.objstm))
	for k := range t.entries {
		out = append(out, k)
	}
	for k := range t.objstm {
		if _, dup := t.entries[k]; !dup {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *table) Type() string { return t.kind }

type resolver struct {
	cfg     ResolverConfig
	trailer raw.Dictionary
}

func (r *resolver) Trailer() raw.Dictionary { return r.trailer }

func (r *resolver) Resolve(ctx context.Context, src io.ReaderAt) (Table, error) {
	data := readAll(src)
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}

	t, err := r.resolveFromStartxref(ctx, data)
	if err == nil {
		return t, nil
	}
	if r.cfg.Recovery.OnError(err, recovery.Location{Component: "XRef"}) == recovery.ActionFail {
		return nil, err
	}
	rep, repErr := repairScan(ctx, data)
	if repErr != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	r.trailer = rep.trailer
	return rep.table, nil
}

func (r *resolver) resolveFromStartxref(ctx context.Context, data []byte) (Table, error) {
	offset, err := lastStartxref(data)
	if err != nil {
		return nil, err
	}

	merged := &table{
		entries: make(map[int]entry),
		objstm:  make(map[int]objStreamEntry),
	}
	visited := make(map[int64]bool)
	depth := 0
	for offset >= 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if depth++; depth > r.cfg.MaxXRefDepth {
			return nil, errors.New("xref chain too deep")
		}
		if visited[offset] {
			break // hybrid files may point Prev and XRefStm at the same section
		}
		visited[offset] = true
		if offset >= int64(len(data)) {
			return nil, fmt.Errorf("xref offset out of range: %d", offset)
		}

		var trailer *raw.DictObj
		var next int64
		if isClassicTableAt(data, offset) {
			if merged.kind == "" {
				merged.kind = "table"
			}
			var xrefStm int64
			trailer, next, xrefStm, err = r.parseClassicSection(data, offset, merged)
			if err != nil {
				return nil, err
			}
			if xrefStm > 0 && !visited[xrefStm] {
				visited[xrefStm] = true
				if _, _, err := r.parseStreamSection(data, xrefStm, merged); err != nil {
					return nil, err
				}
			}
		} else {
			if merged.kind == "" {
				merged.kind = "xref-stream"
			}
			trailer, next, err = r.parseStreamSection(data, offset, merged)
			if err != nil {
				return nil, err
			}
		}
		if r.trailer == nil {
			r.trailer = trailer
		}
		offset = next
	}

	if err := validateSize(r.trailer, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func lastStartxref(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	rest := data[idx+len("startxref"):]
	lines := bufio.NewScanner(bytes.NewReader(rest))
	for lines.Scan() {
		text := strings.TrimSpace(lines.Text())
		if text == "" {
			continue
		}
		val, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse startxref: %w", err)
		}
		return val, nil
	}
	return 0, errors.New("startxref offset missing")
}

func isClassicTableAt(data []byte, offset int64) bool {
	rest := data[offset:]
	rest = bytes.TrimLeft(rest, "\x00\t\n\f\r ")
	return bytes.HasPrefix(rest, []byte("xref"))
}

// parseClassicSection parses one "xref ... trailer <<...>>" section and
// merges its entries (oldest sections never override newer ones).
func (r *resolver) parseClassicSection(data []byte, offset int64, merged *table) (trailer *raw.DictObj, prev, xrefStm int64, err error) {
	sc := bufio.NewScanner(bytes.NewReader(data[offset:]))
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "xref" {
		return nil, 0, 0, errors.New("xref keyword not found at offset")
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "trailer") {
			break
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, 0, 0, fmt.Errorf("invalid xref subsection header: %q", line)
		}
		startObj, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, 0, 0, fmt.Errorf("parse xref start: %w", err)
		}
		count, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, 0, 0, fmt.Errorf("parse xref count: %w", err)
		}
		for i := 0; i < count; i++ {
			if !sc.Scan() {
				return nil, 0, 0, errors.New("unexpected end of xref section")
			}
			fields := strings.Fields(strings.TrimSpace(sc.Text()))
			if len(fields) < 3 {
				return nil, 0, 0, fmt.Errorf("invalid xref entry: %q", sc.Text())
			}
			off, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return nil, 0, 0, fmt.Errorf("parse xref offset: %w", err)
			}
			gen, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, 0, 0, fmt.Errorf("parse xref gen: %w", err)
			}
			if fields[2] != "n" {
				continue // free entry
			}
			num := startObj + i
			if _, seen := merged.entries[num]; seen {
				continue
			}
			if _, seen := merged.objstm[num]; seen {
				continue
			}
			merged.entries[num] = entry{offset: off, gen: gen}
		}
	}

	tIdx := bytes.Index(data[offset:], []byte("trailer"))
	if tIdx < 0 {
		return nil, 0, 0, errors.New("trailer not found after xref table")
	}
	trailer, err = parseDictAt(data, offset+int64(tIdx)+int64(len("trailer")))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("parse trailer: %w", err)
	}
	prev = dictInt(trailer, "Prev", -1)
	xrefStm = dictInt(trailer, "XRefStm", 0)
	return trailer, prev, xrefStm, nil
}

// parseStreamSection parses an xref stream object ("N G obj << /Type /XRef
// ... >> stream ... endstream") and merges its entries.
func (r *resolver) parseStreamSection(data []byte, offset int64, merged *table) (trailer *raw.DictObj, prev int64, err error) {
	s := scanner.New(bytes.NewReader(data[offset:]), scanner.Config{Recovery: r.cfg.Recovery})
	if _, err := expectNumber(s); err != nil {
		return nil, 0, fmt.Errorf("xref stream header: %w", err)
	}
	if _, err := expectNumber(s); err != nil {
		return nil, 0, fmt.Errorf("xref stream header: %w", err)
	}
	if err := expectKeyword(s, "obj"); err != nil {
		return nil, 0, fmt.Errorf("xref stream header: %w", err)
	}
	obj, err := parseObject(s)
	if err != nil {
		return nil, 0, err
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, 0, errors.New("xref stream: not a dictionary")
	}
	if length := dictInt(dict, "Length", -1); length >= 0 {
		s.SetNextStreamLength(length)
	}
	tok, err := s.Next()
	if err != nil || tok.Type != scanner.TokenStream {
		return nil, 0, errors.New("xref stream: stream payload missing")
	}

	payload := tok.Bytes
	names, params := filters.ExtractFilters(dict)
	if len(names) > 0 {
		pipeline := filters.DefaultPipeline(filters.Limits{})
		payload, err = pipeline.Decode(payload, names, params)
		if err != nil {
			return nil, 0, fmt.Errorf("decode xref stream: %w", err)
		}
	}

	if err := mergeStreamEntries(dict, payload, merged); err != nil {
		return nil, 0, err
	}
	return dict, dictInt(dict, "Prev", -1), nil
}

func mergeStreamEntries(dict *raw.DictObj, payload []byte, merged *table) error {
	wObj, ok := raw.DictValue(dict, "W").(*raw.ArrayObj)
	if !ok || wObj.Len() < 3 {
		return errors.New("xref stream: missing W")
	}
	var w [3]int
	for i := 0; i < 3; i++ {
		v, _ := raw.IntValue(wObj.Items[i])
		w[i] = int(v)
	}
	entrySize := w[0] + w[1] + w[2]
	if entrySize <= 0 {
		return errors.New("xref stream: zero entry width")
	}

	size := dictInt(dict, "Size", 0)
	var index []int64
	if arr, ok := raw.DictValue(dict, "Index").(*raw.ArrayObj); ok {
		for _, it := range arr.Items {
			v, _ := raw.IntValue(it)
			index = append(index, v)
		}
	} else {
		index = []int64{0, size}
	}
	if len(index)%2 != 0 {
		return errors.New("xref stream: odd Index")
	}

	readField := func(b []byte, width int, def int64) int64 {
		if width == 0 {
			return def
		}
		var v int64
		for _, c := range b[:width] {
			v = v<<8 | int64(c)
		}
		return v
	}

	pos := 0
	for i := 0; i < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := int64(0); j < count; j++ {
			if pos+entrySize > len(payload) {
				return errors.New("xref stream: payload truncated")
			}
			row := payload[pos : pos+entrySize]
			pos += entrySize
			typ := readField(row, w[0], 1) // missing type field defaults to 1
			f2 := readField(row[w[0]:], w[1], 0)
			f3 := readField(row[w[0]+w[1]:], w[2], 0)
			num := int(start + j)
			if _, seen := merged.entries[num]; seen {
				continue
			}
			if _, seen := merged.objstm[num]; seen {
				continue
			}
			switch typ {
			case 0: // free
			case 1:
				merged.entries[num] = entry{offset: f2, gen: int(f3)}
			case 2:
				merged.objstm[num] = objStreamEntry{stream: int(f2), idx: int(f3)}
			}
		}
	}
	return nil
}

func validateSize(trailer raw.Dictionary, t *table) error {
	if trailer == nil {
		return errors.New("missing trailer")
	}
	size := dictInt(trailer, "Size", -1)
	if size < 0 {
		return errors.New("trailer missing Size")
	}
	objs := t.Objects()
	if len(objs) > 0 && int64(objs[len(objs)-1]) >= size {
		return fmt.Errorf("trailer Size %d smaller than max object %d", size, objs[len(objs)-1])
	}
	return nil
}

func dictInt(d raw.Dictionary, key string, def int64) int64 {
	if v, ok := raw.IntValue(raw.DictValue(d, key)); ok {
		return v
	}
	return def
}

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(64 * 1024)
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil || int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
