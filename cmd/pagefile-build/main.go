// Command pagefile-build seals a newline-delimited key/value input into a
// pagefile on disk.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rngfile/pagefile/pagefile"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-interrupt:
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "pagefile-build",
		Usage:       "build a pagefile from newline-delimited hex key/value pairs",
		Description: "Reads `key<TAB>value` lines (hex-encoded) from an input file and seals them into a pagefile.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Usage:    "path of the pagefile to write",
				Required: true,
			},
			&cli.Uint64Flag{
				Name:  "small-change-bytes",
				Usage: "per-page heap+table byte budget (upper bound)",
				Value: 4096,
			},
			&cli.Float64Flag{
				Name:  "max-waste-ratio",
				Usage: "maximum allowed (emitted bytes / payload bytes) - 1",
				Value: 10.0,
			},
			&cli.Float64Flag{
				Name:  "max-external-ratio",
				Usage: "maximum allowed fraction of externally-resolved keys",
				Value: 0.0,
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "descriptive tag recorded in the build trailer",
			},
		},
		ArgsUsage: "<input-path>",
		Action: func(c *cli.Context) error {
			return run(ctx, c)
		},
	}
	sort.Sort(cli.FlagsByName(app.Flags))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Fatal(err)
	}
}

func run(ctx context.Context, c *cli.Context) error {
	inputPath := c.Args().Get(0)
	if inputPath == "" {
		return fmt.Errorf("missing input-path argument")
	}
	outPath := c.String("out")

	cfg := pagefile.Configuration{
		SmallChangeBytes: c.Uint64("small-change-bytes"),
		MaxWasteRatio:    c.Float64("max-waste-ratio"),
		MaxExternalRatio: c.Float64("max-external-ratio"),
	}

	b, err := pagefile.NewBuilder(cfg)
	if err != nil {
		return fmt.Errorf("creating builder: %w", err)
	}
	if kind := c.String("kind"); kind != "" {
		b.SetKind([]byte(kind))
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	startedAt := time.Now()
	numPairs := 0
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			return fmt.Errorf("malformed line (want key\\tvalue): %q", line)
		}
		key, err := hex.DecodeString(parts[0])
		if err != nil {
			return fmt.Errorf("decoding key %q: %w", parts[0], err)
		}
		value, err := hex.DecodeString(parts[1])
		if err != nil {
			return fmt.Errorf("decoding value for key %q: %w", parts[0], err)
		}
		if err := b.Insert(key, value); err != nil {
			return fmt.Errorf("inserting key %q: %w", parts[0], err)
		}
		numPairs++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()

	if err := b.SealToFile(ctx, out); err != nil {
		return fmt.Errorf("sealing: %w", err)
	}

	info, err := out.Stat()
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	klog.Infof("sealed %d pairs into %s (%s) in %s",
		numPairs, outPath, humanize.Bytes(uint64(info.Size())), time.Since(startedAt))
	return nil
}
