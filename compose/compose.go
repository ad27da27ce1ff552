// Package compose implements page recomposition over raw PDF object graphs:
// merging documents, extracting ranges or arbitrary page selections, and
// splitting into single-page documents. Pages are carried as templates whose
// content streams are copied byte-for-byte, never re-encoded.
package compose

import (
	"context"
	"time"

	"github.com/wudi/pagekit/observability"
	"github.com/wudi/pagekit/parser"
	"github.com/wudi/pagekit/writer"
)

type Option func(*Engine)

func WithLogger(l observability.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithParserConfig overrides the configuration used to parse input buffers.
func WithParserConfig(cfg parser.Config) Option {
	return func(e *Engine) { e.parserCfg = cfg }
}

// Engine runs composition operations. It holds no per-operation state; every
// call builds a fresh output document, so concurrent calls never contend.
type Engine struct {
	log       observability.Logger
	parserCfg parser.Config
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{log: observability.NopLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Merge concatenates all pages of the given documents in input order into
// one output document. At least two inputs are required; any parse failure
// aborts the whole merge.
func (e *Engine) Merge(ctx context.Context, buffers [][]byte) ([]byte, error) {
	if len(buffers) < 2 {
		return nil, &InsufficientInputsError{Count: len(buffers)}
	}

	start := time.Now()
	out := newOutputDoc()
	g := &grouper{doc: out}
	pages := 0
	for i, buf := range buffers {
		src, err := e.load(ctx, buf, i)
		if err != nil {
			return nil, err
		}
		c := newCopier(src.Doc(), out)
		for p := 0; p < src.PageCount(); p++ {
			t, err := extractTemplate(src, p, c)
			if err != nil {
				src.Close()
				return nil, &CorruptDocumentError{SourceIndex: i, Err: err}
			}
			g.place(t)
		}
		pages += src.PageCount()
		src.Close()
	}

	data, err := e.serialize(out)
	if err != nil {
		return nil, err
	}
	e.log.Info("merge complete",
		observability.Int("sources", len(buffers)),
		observability.Int(observability.MetricPageCount, pages),
		observability.Int(observability.MetricSectionCount, len(out.sections)),
		observability.Int64(observability.MetricComposeTime, time.Since(start).Milliseconds()))
	return data, nil
}

// ExtractRange produces a document holding pages [start,end] of buf, bounds
// 1-based and inclusive.
func (e *Engine) ExtractRange(ctx context.Context, buf []byte, start, end int) ([]byte, error) {
	src, err := e.load(ctx, buf, 0)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	count := src.PageCount()
	if start < 1 || end < start || end > count {
		return nil, &InvalidRangeError{Start: start, End: end, PageCount: count}
	}

	out := newOutputDoc()
	g := &grouper{doc: out}
	c := newCopier(src.Doc(), out)
	for p := start - 1; p <= end-1; p++ {
		t, err := extractTemplate(src, p, c)
		if err != nil {
			return nil, &CorruptDocumentError{SourceIndex: 0, Err: err}
		}
		g.place(t)
	}
	return e.serialize(out)
}

// ExtractPages produces a document holding the 0-based pages of buf named by
// indices, preserving caller order and duplicates. All indices are validated
// before any page is extracted.
func (e *Engine) ExtractPages(ctx context.Context, buf []byte, indices []int) ([]byte, error) {
	src, err := e.load(ctx, buf, 0)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	count := src.PageCount()
	for _, idx := range indices {
		if idx < 0 || idx >= count {
			return nil, &PageIndexError{Index: idx, PageCount: count}
		}
	}

	out := newOutputDoc()
	g := &grouper{doc: out}
	c := newCopier(src.Doc(), out)
	for _, idx := range indices {
		t, err := extractTemplate(src, idx, c)
		if err != nil {
			return nil, &CorruptDocumentError{SourceIndex: 0, Err: err}
		}
		g.place(t)
	}
	return e.serialize(out)
}

// SplitAll produces one single-page document per source page, index-aligned
// with the source order. The input is parsed once: all templates are taken
// before the source is closed.
func (e *Engine) SplitAll(ctx context.Context, buf []byte) ([][]byte, error) {
	src, err := e.load(ctx, buf, 0)
	if err != nil {
		return nil, err
	}

	count := src.PageCount()
	outs := make([]*outputDoc, count)
	for p := 0; p < count; p++ {
		out := newOutputDoc()
		c := newCopier(src.Doc(), out)
		t, err := extractTemplate(src, p, c)
		if err != nil {
			src.Close()
			return nil, &CorruptDocumentError{SourceIndex: 0, Err: err}
		}
		g := &grouper{doc: out}
		g.place(t)
		outs[p] = out
	}
	src.Close()

	results := make([][]byte, count)
	for p, out := range outs {
		data, err := e.serialize(out)
		if err != nil {
			return nil, err
		}
		results[p] = data
	}
	e.log.Info("split complete", observability.Int(observability.MetricPageCount, count))
	return results, nil
}

func (e *Engine) load(ctx context.Context, buf []byte, idx int) (*parser.Source, error) {
	start := time.Now()
	src, err := parser.LoadWith(ctx, buf, e.parserCfg)
	if err != nil {
		return nil, &CorruptDocumentError{SourceIndex: idx, Err: err}
	}
	e.log.Debug("source parsed",
		observability.Int("source", idx),
		observability.Int(observability.MetricPageCount, src.PageCount()),
		observability.Int64(observability.MetricParseTime, time.Since(start).Milliseconds()))
	return src, nil
}

func (e *Engine) serialize(out *outputDoc) ([]byte, error) {
	doc, err := out.finalize()
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	data, err := writer.Serialize(doc)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return data, nil
}
