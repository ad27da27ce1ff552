package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wudi/pagekit/compose"
)

type options struct {
	input   string
	outPath string
	first   int
	last    int
	pages   []int
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfextract: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pdfextract: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: pdfextract [flags] <in.pdf>\n")
		flag.PrintDefaults()
	}
	first := flag.Int("first", 0, "First page of the range, 1-based")
	last := flag.Int("last", 0, "Last page of the range, 1-based inclusive")
	pages := flag.String("pages", "", "Comma-separated 1-based page list (order and duplicates preserved)")
	out := flag.String("o", "extracted.pdf", "Output file path")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	opts.input = flag.Arg(0)
	opts.outPath = *out
	opts.first = *first
	opts.last = *last

	if *pages != "" {
		if *first != 0 || *last != 0 {
			return options{}, fmt.Errorf("-pages and -first/-last are mutually exclusive")
		}
		for _, part := range strings.Split(*pages, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return options{}, fmt.Errorf("invalid page %q", part)
			}
			if n < 1 {
				return options{}, fmt.Errorf("pages are 1-based, got %d", n)
			}
			opts.pages = append(opts.pages, n-1)
		}
		return opts, nil
	}
	if *first == 0 && *last == 0 {
		return options{}, fmt.Errorf("need -pages or -first/-last")
	}
	return opts, nil
}

func run(opts options) error {
	data, err := os.ReadFile(opts.input)
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.input, err)
	}

	engine := compose.NewEngine()
	ctx := context.Background()
	var out []byte
	if opts.pages != nil {
		out, err = engine.ExtractPages(ctx, data, opts.pages)
	} else {
		out, err = engine.ExtractRange(ctx, data, opts.first, opts.last)
	}
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if err := os.WriteFile(opts.outPath, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.outPath, err)
	}
	fmt.Printf("wrote %s (%d bytes)\n", opts.outPath, len(out))
	return nil
}
