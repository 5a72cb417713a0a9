package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fixwise/fixwise/internal/app"
	"github.com/fixwise/fixwise/internal/config"
	"github.com/fixwise/fixwise/internal/obd"
)

// runGuides dispatches the guides subcommands.
func runGuides(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: fixwise guides fill CODE... | fixwise guides translate [--dry-run] [CODE...]")
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

	switch args[0] {
	case "fill":
		return runGuidesFill(ctx, a, args[1:])
	case "translate":
		return runGuidesTranslate(ctx, a, args[1:])
	default:
		return fmt.Errorf("unknown guides subcommand: %s", args[0])
	}
}

// runGuidesFill generates missing guides. Without explicit codes it
// sweeps stored records whose causes have no guides yet.
func runGuidesFill(ctx context.Context, a *app.App, codes []string) error {
	if len(codes) == 0 {
		topics, err := a.Knowledge.TopicsMissingGuides(ctx, 50)
		if err != nil {
			return fmt.Errorf("listing unguided records: %w", err)
		}
		for _, topic := range topics {
			codes = append(codes, obd.CodeFromTopic(topic))
		}
		if len(codes) == 0 {
			fmt.Println("no records are missing guides")
			return nil
		}
	}
	total := 0
	for _, raw := range codes {
		code, err := obd.ParseCode(raw)
		if err != nil {
			a.Logger.Warn("skipping non-code record", "value", raw)
			continue
		}
		created, err := a.Generator.FillForCode(ctx, code)
		if err != nil {
			a.Logger.Warn("guide fill failed", "code", code, "error", err)
			continue
		}
		fmt.Printf("%s: %d guides created\n", code, created)
		total += created
	}
	fmt.Printf("total: %d\n", total)
	return nil
}

func runGuidesTranslate(ctx context.Context, a *app.App, args []string) error {
	dryRun := false
	var codes []string
	for _, arg := range args {
		if arg == "--dry-run" {
			dryRun = true
			continue
		}
		codes = append(codes, arg)
	}

	report, err := a.Generator.TranslateMissing(ctx, codes, dryRun)
	if err != nil {
		return fmt.Errorf("translating guides: %w", err)
	}
	fmt.Printf("processed %d, translated %d, skipped %d, failed %d",
		report.Processed, report.Translated, report.Skipped, report.Failed)
	if report.DryRun {
		fmt.Print(" (dry run)")
	}
	fmt.Println()
	return nil
}
