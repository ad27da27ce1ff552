// Package parser turns PDF bytes into a raw.Document and resolves the page
// tree into an ordered page list. Page content streams stay undecoded; only
// structural streams (xref and object streams) are run through filters.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/recovery"
	"github.com/wudi/pagekit/scanner"
	"github.com/wudi/pagekit/xref"
)

// EncryptedDocumentError reports an /Encrypt entry in the trailer. Decryption
// is out of scope; callers get a clean failure instead of garbled objects.
type EncryptedDocumentError struct{}

func (EncryptedDocumentError) Error() string { return "document is encrypted" }

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Scanner  scanner.Config
	Cache    Cache
}

// DocumentParser builds a raw.Document from xref tables/streams and the
// object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.Strict{}
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	return &DocumentParser{cfg: cfg}
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	resolver := xref.NewResolver(p.cfg.XRef)
	table, err := resolver.Resolve(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	trailer := resolver.Trailer()
	if raw.DictValue(trailer, "Encrypt") != nil {
		return nil, EncryptedDocumentError{}
	}

	loader, err := (&ObjectLoaderBuilder{}).
		WithReader(r).
		WithXRef(table).
		WithScannerConfig(p.cfg.Scanner).
		WithCache(p.cfg.Cache).
		WithRecovery(p.cfg.Recovery).
		Build()
	if err != nil {
		return nil, err
	}

	doc := &raw.Document{
		Objects: make(map[raw.ObjectRef]raw.Object),
		Trailer: trailer,
		Version: detectHeaderVersion(r),
	}

	for _, objNum := range table.Objects() {
		if objNum == 0 {
			continue // free head entry
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		gen := 0
		if _, g, found := table.Lookup(objNum); found {
			gen = g
		}
		ref := raw.ObjectRef{Num: objNum, Gen: gen}
		obj, err := loader.Load(ctx, ref)
		if err != nil {
			loc := recovery.Location{ObjectNum: objNum, ObjectGen: gen, Component: "Parser"}
			if p.cfg.Recovery.OnError(err, loc) == recovery.ActionFail {
				return nil, fmt.Errorf("load object %d: %w", objNum, err)
			}
			continue // dangling references resolve to null downstream
		}
		doc.Objects[ref] = obj
	}

	return doc, nil
}

func detectHeaderVersion(r io.ReaderAt) string {
	buf := make([]byte, 64)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	line := string(buf[:n])
	for _, sep := range []string{"\r\n", "\n", "\r"} {
		if idx := strings.Index(line, sep); idx >= 0 {
			line = line[:idx]
			break
		}
	}
	if strings.HasPrefix(line, "%PDF-") && len(line) >= 8 {
		return strings.TrimSpace(line[5:])
	}
	return ""
}
