package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/wudi/pagekit/compose"
)

type options struct {
	inputs  []string
	outPath string
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfmerge: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pdfmerge: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: pdfmerge [flags] <in1.pdf> <in2.pdf> [more.pdf...]\n")
		flag.PrintDefaults()
	}
	out := flag.String("o", "merged.pdf", "Output file path")
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		return options{}, fmt.Errorf("need at least two input files")
	}
	opts.inputs = flag.Args()
	opts.outPath = *out
	return opts, nil
}

func run(opts options) error {
	buffers := make([][]byte, len(opts.inputs))
	for i, path := range opts.inputs {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		buffers[i] = data
	}

	out, err := compose.NewEngine().Merge(context.Background(), buffers)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	if err := os.WriteFile(opts.outPath, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.outPath, err)
	}
	fmt.Printf("wrote %s (%d inputs, %d bytes)\n", opts.outPath, len(opts.inputs), len(out))
	return nil
}
