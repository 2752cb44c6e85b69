package main

import (
	"flag"
	"fmt"
	"os"

	"arenasync/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing session bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		h := entry.Header
		fmt.Printf("%s (schema %d)\n", entry.ManifestPath, h.SchemaVersion)
		fmt.Printf("  session: %s on channel %q\n", h.SessionID, h.Channel)
		codec := h.Codec
		if h.Compression != "" && h.Compression != "none" {
			codec += "+" + h.Compression
		}
		fmt.Printf("  local entity: %d at (%.1f, %.1f), codec %s\n", h.LocalID, h.Position.X, h.Position.Y, codec)
		fmt.Printf("  arena: %.0fx%.0f\n", h.Arena.Right-h.Arena.Left, h.Arena.Bottom-h.Arena.Top)
	}
}
