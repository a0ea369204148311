package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"grok2api-go/internal/config"
	store "grok2api-go/internal/storage"
)

func main() {
	mode := flag.String("mode", "", "operation mode: export | import | verify | copy")
	filePath := flag.String("file", "", "file path for export/import/verify (default: stdout/stdin)")
	configPath := flag.String("config", "", "path to configuration file")
	target := flag.String("to", "", "destination backend for copy mode (file|redis|postgres|mongodb|git)")
	timeout := flag.Duration("timeout", 30*time.Second, "operation timeout")
	flag.Parse()

	if *mode == "" {
		fail(fmt.Errorf("missing -mode (export|import|verify|copy)"))
	}

	cm, err := config.NewConfigManager(*configPath)
	if err != nil {
		fail(fmt.Errorf("load configuration: %w", err))
	}
	cfg := cm.Get()
	cm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	backend, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		fail(fmt.Errorf("open storage backend: %w", err))
	}
	defer backend.Close()

	switch strings.ToLower(*mode) {
	case "export":
		err = runExport(ctx, backend, *filePath)
	case "import":
		err = runImport(ctx, backend, *filePath)
	case "verify":
		var matches bool
		matches, err = runVerify(ctx, backend, *filePath)
		if err == nil && !matches {
			os.Exit(1)
		}
	case "copy":
		if *target == "" {
			fail(errors.New("copy mode requires -to"))
		}
		dst := cfg.Storage
		dst.Backend = *target
		var dest store.Backend
		dest, err = store.Open(ctx, dst)
		if err != nil {
			fail(fmt.Errorf("open destination backend: %w", err))
		}
		defer dest.Close()
		err = runCopy(ctx, backend, dest)
	default:
		err = fmt.Errorf("unknown mode %q (expected export|import|verify|copy)", *mode)
	}
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "storageutil:", err)
	os.Exit(1)
}
