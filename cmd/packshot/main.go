// Command packshot composes and scores product photos locally, without the
// job queue or any storage backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"packshot/internal/composer"
	"packshot/internal/quality"
	"packshot/internal/segmentation"
)

type options struct {
	in        string
	out       string
	size      int
	scoreOnly bool
	key       bool
	tolerance int
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "packshot:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("packshot", flag.ContinueOnError)
	fs.StringVar(&opts.in, "in", "", "input image (a cut-out PNG, or any photo with -key)")
	fs.StringVar(&opts.out, "out", "", "where to write the composed PNG")
	fs.IntVar(&opts.size, "size", composer.DefaultSize, "canvas side in pixels")
	fs.BoolVar(&opts.scoreOnly, "score-only", false, "score -in as is and skip composition")
	fs.BoolVar(&opts.key, "key", false, "remove a uniform background with the chroma-key provider first")
	fs.IntVar(&opts.tolerance, "tolerance", 40, "chroma-key colour tolerance")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.in == "" {
		return errors.New("-in is required")
	}
	if !opts.scoreOnly && opts.out == "" {
		return errors.New("-out is required unless -score-only is set")
	}

	data, err := os.ReadFile(opts.in)
	if err != nil {
		return err
	}

	if !opts.scoreOnly {
		if opts.key {
			data, err = segmentation.NewChromaKey(opts.tolerance).Segment(context.Background(), data)
			if err != nil {
				return err
			}
		}
		data, err = composer.New().ComposeBytes(data, opts.size)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.out, data, 0o644); err != nil {
			return err
		}
	}

	report, err := quality.New().ScoreBytes(data)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
