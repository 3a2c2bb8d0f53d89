// Command pagefile-lookup resolves keys against a sealed pagefile.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/rngfile/pagefile/buildinfo"
	"github.com/rngfile/pagefile/pagefile"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func main() {
	app := &cli.App{
		Name:  "pagefile-lookup",
		Usage: "look up keys in a sealed pagefile",
		Commands: []*cli.Command{
			newCmdGet(),
			newCmdInspect(),
		},
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.Run(os.Args); err != nil {
		klog.Fatal(err)
	}
}

func newCmdGet() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "look up a single hex-encoded key",
		ArgsUsage: "<pagefile-path> <hex-key>",
		Action: func(c *cli.Context) error {
			path := c.Args().Get(0)
			hexKey := c.Args().Get(1)
			if path == "" || hexKey == "" {
				return fmt.Errorf("usage: pagefile-lookup get <pagefile-path> <hex-key>")
			}
			key, err := hex.DecodeString(hexKey)
			if err != nil {
				return fmt.Errorf("decoding key: %w", err)
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening pagefile: %w", err)
			}
			defer f.Close()

			r, err := pagefile.Open(f)
			if err != nil {
				return fmt.Errorf("opening reader: %w", err)
			}

			value, err := r.Lookup(key)
			if pagefile.IsNotFound(err) {
				return fmt.Errorf("key not found")
			}
			if err != nil {
				return fmt.Errorf("lookup: %w", err)
			}
			fmt.Println(hex.EncodeToString(value))
			return nil
		},
	}
}

func newCmdInspect() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "print the pagefile's header and build trailer",
		ArgsUsage: "<pagefile-path>",
		Action: func(c *cli.Context) error {
			path := c.Args().Get(0)
			if path == "" {
				return fmt.Errorf("usage: pagefile-lookup inspect <pagefile-path>")
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening pagefile: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat: %w", err)
			}

			r, err := pagefile.Open(f)
			if err != nil {
				return fmt.Errorf("opening reader: %w", err)
			}
			h := r.Header()
			fmt.Printf("size: %s\n", humanize.Bytes(uint64(info.Size())))
			fmt.Printf("pages: %d\n", h.PageCount)
			fmt.Printf("heap bytes/page: %d\n", h.HeapBytes)
			fmt.Printf("table slots/page: %d\n", h.TableSlots)

			raw, err := r.Inspect(info.Size())
			if err != nil {
				return fmt.Errorf("reading trailer: %w", err)
			}
			meta, err := buildinfo.Decode(raw)
			if err != nil {
				return fmt.Errorf("decoding trailer: %w", err)
			}
			if kind, ok := meta.Get(buildinfo.KeyKind); ok {
				fmt.Printf("kind: %s\n", kind)
			}
			if buildID, ok := meta.Get(buildinfo.KeyBuildID); ok {
				fmt.Printf("build-id: %s\n", buildID)
			}
			if createdAt, ok := meta.Get(buildinfo.KeyCreatedAt); ok {
				fmt.Printf("created-at: %s\n", createdAt)
			}
			return nil
		},
	}
}
