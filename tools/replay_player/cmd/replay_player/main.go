package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"arenasync/internal/logging"
	"arenasync/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a session bundle directory or its manifest.json")
	verbose := flag.Bool("v", false, "Log replay progress to stderr")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	level := logging.WarnLevel
	if *verbose {
		level = logging.DebugLevel
	}
	logger := logging.NewWriterLogger(os.Stderr, level)

	result, err := replayplayer.ReplayBundle(*path, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	//1.- Print the final registry as JSON so runs can be diffed against each other.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
