package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/wudi/pagekit/filters"
	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/recovery"
	"github.com/wudi/pagekit/scanner"
	"github.com/wudi/pagekit/xref"
)

// Cache optionally memoizes loaded objects across Load calls.
type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

// ObjectLoader materializes indirect objects from their xref locations,
// including objects packed inside object streams.
type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	reader    io.ReaderAt
	xrefTable xref.Table
	scanCfg   scanner.Config
	cache     Cache
	recovery  recovery.Strategy
}

func (b *ObjectLoaderBuilder) WithReader(r io.ReaderAt) *ObjectLoaderBuilder {
	b.reader = r
	return b
}

func (b *ObjectLoaderBuilder) WithXRef(table xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}

func (b *ObjectLoaderBuilder) WithScannerConfig(cfg scanner.Config) *ObjectLoaderBuilder {
	b.scanCfg = cfg
	return b
}

func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }

func (b *ObjectLoaderBuilder) WithRecovery(r recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = r
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.reader == nil || b.xrefTable == nil {
		return nil, errors.New("reader and xrefTable required")
	}
	rec := b.recovery
	if rec == nil {
		rec = recovery.Strict{}
	}
	cfg := b.scanCfg
	cfg.Recovery = rec
	return &objectLoader{
		reader:    b.reader,
		xrefTable: b.xrefTable,
		scanCfg:   cfg,
		cache:     b.cache,
		recovery:  rec,
	}, nil
}

type objectLoader struct {
	reader    io.ReaderAt
	xrefTable xref.Table
	scanCfg   scanner.Config
	cache     Cache
	recovery  recovery.Strategy

	mu      sync.Mutex
	scanner scanner.Scanner
	objstm  map[int]map[int]raw.Object
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if o.cache != nil {
		if obj, ok := o.cache.Get(ref); ok {
			return obj, nil
		}
	}

	obj, err := o.loadOnce(ctx, ref)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		o.cache.Put(ref, obj)
	}
	return obj, nil
}

func (o *objectLoader) loadOnce(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	offset, gen, found := o.xrefTable.Lookup(ref.Num)
	if !found {
		if stmNum, idx, ok := o.xrefTable.ObjStream(ref.Num); ok {
			return o.loadFromObjectStream(ctx, ref, stmNum, idx)
		}
		return nil, fmt.Errorf("object %d not found in xref", ref.Num)
	}
	return o.loadAtOffset(ref.Num, offset, gen)
}

// loadAtOffset assumes the caller holds the loader mutex.
func (o *objectLoader) loadAtOffset(objNum int, offset int64, gen int) (raw.Object, error) {
	if o.scanner == nil {
		o.scanner = scanner.New(o.reader, o.scanCfg)
	}
	return o.scanObject(o.scanner, objNum, offset, gen)
}

func (o *objectLoader) scanObject(s scanner.Scanner, objNum int, offset int64, gen int) (raw.Object, error) {
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tr := newTokenReader(s)

	tokNum, err := tr.next()
	if err != nil {
		return nil, err
	}
	if tokNum.Type != scanner.TokenNumber || !tokNum.IsInt || int(tokNum.Int) != objNum {
		return nil, fmt.Errorf("object %d: header number mismatch", objNum)
	}
	tokGen, err := tr.next()
	if err != nil {
		return nil, err
	}
	if tokGen.Type != scanner.TokenNumber || !tokGen.IsInt || int(tokGen.Int) != gen {
		return nil, fmt.Errorf("object %d: header generation mismatch", objNum)
	}
	tokObj, err := tr.next()
	if err != nil {
		return nil, err
	}
	if tokObj.Type != scanner.TokenKeyword || tokObj.Str != "obj" {
		return nil, fmt.Errorf("object %d: expected obj keyword", objNum)
	}

	obj, err := parseObject(tr, o.recovery, objNum, gen)
	if err != nil {
		return nil, err
	}
	if dict, ok := obj.(*raw.DictObj); ok {
		hint, err := o.resolveStreamLength(dict)
		if err != nil {
			return nil, err
		}
		if hint > 0 {
			tr.setStreamLengthHint(hint)
		} else {
			tr.clearStreamLengthHint()
		}
		if streamTok, err := tr.next(); err == nil && streamTok.Type == scanner.TokenStream {
			obj = raw.NewStream(dict, streamTok.Bytes)
		} else if err == nil {
			tr.unread(streamTok)
		}
	}
	return obj, nil
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, stmNum, idx int) (raw.Object, error) {
	if o.objstm == nil {
		o.objstm = make(map[int]map[int]raw.Object)
	}
	if objs, ok := o.objstm[stmNum]; ok {
		if obj, ok := objs[ref.Num]; ok {
			return obj, nil
		}
		return nil, fmt.Errorf("object %d not found in object stream %d", ref.Num, stmNum)
	}

	offset, gen, ok := o.xrefTable.Lookup(stmNum)
	if !ok {
		return nil, fmt.Errorf("object stream %d missing from xref", stmNum)
	}
	streamObj, err := o.loadAtOffset(stmNum, offset, gen)
	if err != nil {
		return nil, err
	}
	st, ok := streamObj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object %d is not an object stream", stmNum)
	}

	data := st.RawData()
	names, params := filters.ExtractFilters(st.Dict)
	if len(names) > 0 {
		pipeline := filters.DefaultPipeline(filters.Limits{MaxDecompressedSize: o.scanCfg.MaxStreamLength})
		data, err = pipeline.Decode(data, names, params)
		if err != nil {
			return nil, fmt.Errorf("decode object stream %d: %w", stmNum, err)
		}
	}

	n := int(dictInt(st.Dict, "N"))
	first := int(dictInt(st.Dict, "First"))
	if first < 0 || first > len(data) {
		return nil, fmt.Errorf("object stream %d: First out of range", stmNum)
	}

	// Header: n pairs of "objNum byteOffset" relative to First.
	hs := scanner.New(bytes.NewReader(data[:first]), o.scanCfg)
	pairs := make([]int, 0, 2*n)
	for len(pairs) < 2*n {
		tok, err := hs.Next()
		if err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", stmNum, err)
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, fmt.Errorf("object stream %d header: non-integer entry", stmNum)
		}
		pairs = append(pairs, int(tok.Int))
	}

	body := data[first:]
	objs := make(map[int]raw.Object, n)
	for i := 0; i < n; i++ {
		num, off := pairs[2*i], pairs[2*i+1]
		if off < 0 || off > len(body) {
			return nil, fmt.Errorf("object stream %d: offset out of range for object %d", stmNum, num)
		}
		bs := scanner.New(bytes.NewReader(body[off:]), o.scanCfg)
		obj, err := parseObject(newTokenReader(bs), o.recovery, num, 0)
		if err != nil {
			return nil, fmt.Errorf("object stream %d: parse object %d: %w", stmNum, num, err)
		}
		objs[num] = obj
	}
	o.objstm[stmNum] = objs

	if obj, ok := objs[ref.Num]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("object %d not found in object stream %d", ref.Num, stmNum)
}

// resolveStreamLength returns the /Length value, loading it through a
// dedicated scanner when it is an indirect reference.
func (o *objectLoader) resolveStreamLength(dict *raw.DictObj) (int64, error) {
	val := raw.DictValue(dict, "Length")
	switch v := val.(type) {
	case raw.NumberObj:
		return v.Int(), nil
	case raw.RefObj:
		offset, gen, ok := o.xrefTable.Lookup(v.R.Num)
		if !ok {
			return 0, fmt.Errorf("length reference %v missing from xref", v.R)
		}
		tmp := scanner.New(o.reader, o.scanCfg)
		obj, err := o.scanObject(tmp, v.R.Num, offset, gen)
		if err != nil {
			return 0, err
		}
		if num, ok := obj.(raw.NumberObj); ok {
			return num.Int(), nil
		}
		return 0, fmt.Errorf("length reference %v is not numeric", v.R)
	default:
		return 0, nil
	}
}

func dictInt(d *raw.DictObj, key string) int64 {
	v, _ := raw.IntValue(raw.DictValue(d, key))
	return v
}

type streamLengthSetter interface{ SetNextStreamLength(int64) }

// tokenReader adds single-token pushback on top of a scanner.
type tokenReader struct {
	s            interface{ Next() (scanner.Token, error) }
	buf          []scanner.Token
	lengthSetter streamLengthSetter
}

func newTokenReader(src interface{ Next() (scanner.Token, error) }) *tokenReader {
	tr := &tokenReader{s: src}
	if setter, ok := src.(streamLengthSetter); ok {
		tr.lengthSetter = setter
	}
	return tr
}

func (r *tokenReader) next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *tokenReader) unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

func (r *tokenReader) setStreamLengthHint(n int64) {
	if r.lengthSetter != nil && n > 0 {
		r.lengthSetter.SetNextStreamLength(n)
	}
}

func (r *tokenReader) clearStreamLengthHint() {
	if r.lengthSetter != nil {
		r.lengthSetter.SetNextStreamLength(-1)
	}
}

func parseObject(tr *tokenReader, rec recovery.Strategy, objNum, gen int) (raw.Object, error) {
	tok, err := tr.next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return raw.NumberObj{F: tok.Float}, nil
	case scanner.TokenBoolean:
		return raw.BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	case scanner.TokenString:
		if tok.IsHex {
			return raw.HexStringObj{Bytes: tok.Bytes}, nil
		}
		return raw.StringObj{Bytes: tok.Bytes}, nil
	case scanner.TokenRef:
		return raw.Ref(int(tok.Int), tok.Gen), nil
	case scanner.TokenArray:
		return parseArray(tr, rec, objNum, gen)
	case scanner.TokenDict:
		return parseDict(tr, rec, objNum, gen)
	}
	return nil, fmt.Errorf("object %d: unexpected token %q", objNum, tok.Str)
}

func parseArray(tr *tokenReader, rec recovery.Strategy, objNum, gen int) (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		tr.unread(tok)
		item, err := parseObject(tr, rec, objNum, gen)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func parseDict(tr *tokenReader, rec recovery.Strategy, objNum, gen int) (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			if tok.Type == scanner.TokenKeyword && tok.Str == "endobj" {
				// Missing ">>": a lenient strategy accepts the truncated dict.
				err := errors.New("unexpected endobj in dictionary")
				loc := recovery.Location{ObjectNum: objNum, ObjectGen: gen, Component: "Parser"}
				if a := rec.OnError(err, loc); a == recovery.ActionWarn || a == recovery.ActionFix {
					tr.unread(tok)
					return d, nil
				}
				return nil, err
			}
			return nil, fmt.Errorf("object %d: expected name key in dictionary", objNum)
		}
		val, err := parseObject(tr, rec, objNum, gen)
		if err != nil {
			return nil, err
		}
		d.Set(raw.NameObj{Val: tok.Str}, val)
	}
}
