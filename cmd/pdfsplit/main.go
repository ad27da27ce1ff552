package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/wudi/pagekit/service"
)

type options struct {
	input  string
	outDir string
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfsplit: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pdfsplit: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: pdfsplit [flags] <in.pdf>\n")
		flag.PrintDefaults()
	}
	dir := flag.String("d", ".", "Directory for per-page output files")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	opts.input = flag.Arg(0)
	opts.outDir = *dir
	return opts, nil
}

func run(opts options) error {
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	svc, err := service.New(service.Config{SinkDir: opts.outDir})
	if err != nil {
		return err
	}
	paths, err := svc.SplitAllFile(context.Background(), opts.input)
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}
