package service

import (
	"context"
	"os"
	"sync"

	"github.com/wudi/pagekit/parser"
)

// PageCount parses buf and returns its page count, or 0 on any failure. It
// exists for callers validating user-supplied ranges before composing.
func PageCount(ctx context.Context, buf []byte) int {
	src, err := parser.Load(ctx, buf)
	if err != nil {
		return 0
	}
	defer src.Close()
	return src.PageCount()
}

// Preload is the eagerly gathered state of one picked document.
type Preload struct {
	Path      string
	Data      []byte
	PageCount int
	Err       error
}

// Preloader reads documents concurrently as they are picked, so a later
// merge does not pay for I/O at trigger time. Results gather in Add order.
// Abandoning a Preloader is safe: in-flight loads complete into buffered
// channels and are discarded.
type Preloader struct {
	mu      sync.Mutex
	pending []<-chan Preload
}

func NewPreloader() *Preloader { return &Preloader{} }

// Add starts loading the document at path in the background.
func (p *Preloader) Add(ctx context.Context, path string) {
	ch := make(chan Preload, 1)
	go func() {
		pl := Preload{Path: path}
		data, err := os.ReadFile(path)
		if err != nil {
			pl.Err = &IOError{Path: path, Op: "read", Err: err}
			ch <- pl
			return
		}
		pl.Data = data
		pl.PageCount = PageCount(ctx, data)
		ch <- pl
	}()

	p.mu.Lock()
	p.pending = append(p.pending, ch)
	p.mu.Unlock()
}

// Gather waits for every added document and returns the preloads in Add
// order. Per-document failures are carried in Preload.Err, not returned.
func (p *Preloader) Gather(ctx context.Context) ([]Preload, error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	out := make([]Preload, 0, len(pending))
	for _, ch := range pending {
		select {
		case pl := <-ch:
			out = append(out, pl)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// Buffers returns the successfully loaded byte buffers from preloads, in
// order, with failed entries skipped.
func Buffers(preloads []Preload) [][]byte {
	out := make([][]byte, 0, len(preloads))
	for _, pl := range preloads {
		if pl.Err == nil {
			out = append(out, pl.Data)
		}
	}
	return out
}
