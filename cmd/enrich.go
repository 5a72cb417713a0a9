package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fixwise/fixwise/internal/app"
	"github.com/fixwise/fixwise/internal/config"
)

// runEnrich enriches one error code and prints the result as JSON.
func runEnrich(args []string) error {
	var code string
	quick := false
	for _, arg := range args {
		switch arg {
		case "--quick":
			quick = true
		default:
			if code != "" {
				return fmt.Errorf("unexpected argument: %s", arg)
			}
			code = arg
		}
	}
	if code == "" {
		return fmt.Errorf("usage: fixwise enrich CODE [--quick]")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	result, err := a.Pipeline.EnrichCode(ctx, code, nil, quick)
	if err != nil {
		return fmt.Errorf("enriching %s: %w", code, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
