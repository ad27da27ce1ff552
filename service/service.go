// Package service is the offload harness around the composition engine:
// path-level wrappers with concurrent reads and writes, async dispatch, and
// per-document preloading. Output files land in an explicitly configured
// sink directory; there is no process-global state.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wudi/pagekit/compose"
	"github.com/wudi/pagekit/observability"
)

// IOError reports a failed read or write of source or output bytes.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

type Config struct {
	// SinkDir receives generated output files. Required.
	SinkDir string
	Logger  observability.Logger
	Engine  *compose.Engine
}

// Service wraps the composition engine with file-path conveniences. Safe for
// concurrent use: operations share no mutable state.
type Service struct {
	sinkDir string
	log     observability.Logger
	engine  *compose.Engine
}

func New(cfg Config) (*Service, error) {
	if cfg.SinkDir == "" {
		return nil, fmt.Errorf("sink directory required")
	}
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	engine := cfg.Engine
	if engine == nil {
		engine = compose.NewEngine(compose.WithLogger(log))
	}
	return &Service{sinkDir: cfg.SinkDir, log: log, engine: engine}, nil
}

// Merge composes the given buffers; see compose.Engine.Merge.
func (s *Service) Merge(ctx context.Context, buffers [][]byte) ([]byte, error) {
	return s.engine.Merge(ctx, buffers)
}

// ExtractRange composes pages [start,end] (1-based) of buf.
func (s *Service) ExtractRange(ctx context.Context, buf []byte, start, end int) ([]byte, error) {
	return s.engine.ExtractRange(ctx, buf, start, end)
}

// ExtractPages composes the 0-based pages of buf named by indices.
func (s *Service) ExtractPages(ctx context.Context, buf []byte, indices []int) ([]byte, error) {
	return s.engine.ExtractPages(ctx, buf, indices)
}

// SplitAll composes one single-page buffer per page of buf.
func (s *Service) SplitAll(ctx context.Context, buf []byte) ([][]byte, error) {
	return s.engine.SplitAll(ctx, buf)
}

// MergeFiles reads all paths concurrently (order preserved by index), merges
// them, and writes the result to the sink directory.
func (s *Service) MergeFiles(ctx context.Context, paths []string) (string, error) {
	buffers := make([][]byte, len(paths))
	grp, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return &IOError{Path: path, Op: "read", Err: err}
			}
			buffers[i] = data
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return "", err
	}

	data, err := s.engine.Merge(ctx, buffers)
	if err != nil {
		return "", err
	}
	return s.writeOutput("merge", data)
}

// ExtractRangeFile extracts pages [start,end] of the file at path and writes
// the result to the sink directory.
func (s *Service) ExtractRangeFile(ctx context.Context, path string, start, end int) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", &IOError{Path: path, Op: "read", Err: err}
	}
	data, err := s.engine.ExtractRange(ctx, buf, start, end)
	if err != nil {
		return "", err
	}
	return s.writeOutput("extract", data)
}

// ExtractPagesFile extracts the given 0-based pages of the file at path and
// writes the result to the sink directory.
func (s *Service) ExtractPagesFile(ctx context.Context, path string, indices []int) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", &IOError{Path: path, Op: "read", Err: err}
	}
	data, err := s.engine.ExtractPages(ctx, buf, indices)
	if err != nil {
		return "", err
	}
	return s.writeOutput("extract", data)
}

// SplitAllFile splits the file at path into per-page documents and writes
// them concurrently. The returned paths are index-aligned with source pages.
func (s *Service) SplitAllFile(ctx context.Context, path string) ([]string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Path: path, Op: "read", Err: err}
	}
	outputs, err := s.engine.SplitAll(ctx, buf)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(outputs))
	grp, _ := errgroup.WithContext(ctx)
	for i, data := range outputs {
		grp.Go(func() error {
			out, err := s.writeOutput(fmt.Sprintf("split_%d", i+1), data)
			if err != nil {
				return err
			}
			paths[i] = out
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// writeOutput writes data as <prefix>_<epoch-millis>.pdf via a temp file and
// rename, so no partial output is ever observable under the final name.
func (s *Service) writeOutput(prefix string, data []byte) (string, error) {
	name := fmt.Sprintf("%s_%d.pdf", prefix, time.Now().UnixMilli())
	final := filepath.Join(s.sinkDir, name)

	tmp, err := os.CreateTemp(s.sinkDir, ".pagekit-*")
	if err != nil {
		return "", &IOError{Path: s.sinkDir, Op: "create", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", &IOError{Path: tmpName, Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", &IOError{Path: tmpName, Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", &IOError{Path: final, Op: "rename", Err: err}
	}
	s.log.Info("output written",
		observability.String("path", final),
		observability.Int("bytes", len(data)))
	return final, nil
}

// Outcome carries the single result of a dispatched operation.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Dispatch runs op on its own goroutine and delivers exactly one Outcome.
// The channel is buffered, so callers may abandon it: the operation runs to
// completion and its result is discarded.
func Dispatch[T any](ctx context.Context, op func(context.Context) (T, error)) <-chan Outcome[T] {
	ch := make(chan Outcome[T], 1)
	go func() {
		v, err := op(ctx)
		ch <- Outcome[T]{Value: v, Err: err}
	}()
	return ch
}
