package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fixwise/fixwise/internal/app"
	"github.com/fixwise/fixwise/internal/config"
	"github.com/fixwise/fixwise/internal/harvest"
	"github.com/fixwise/fixwise/internal/knowledge"
)

// runHarvest dispatches the harvest subcommands. A bare number (or
// nothing) processes queued topics; "add" seeds the queue; "status"
// reports the backlog.
func runHarvest(args []string) error {
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

	if len(args) > 0 {
		switch args[0] {
		case "add":
			return runHarvestAdd(ctx, a, args[1:])
		case "status":
			return runHarvestStatus(ctx, a)
		}
	}
	return runHarvestProcess(ctx, a, args)
}

// runHarvestProcess runs up to n queue items, stopping early when the
// queue drains. Meant to be driven by cron or a scheduler.
func runHarvestProcess(ctx context.Context, a *app.App, args []string) error {
	limit := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid topic count: %s", args[0])
		}
		limit = n
	}

	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			break
		}
		result, err := a.Harvester.Run(ctx)
		if err != nil {
			return fmt.Errorf("harvesting: %w", err)
		}
		if result.Outcome == harvest.OutcomeEmpty {
			fmt.Println("queue is empty")
			return nil
		}
		fmt.Printf("%s: %s (attempts %d)\n", result.Outcome, result.Topic, result.Attempts)
		if result.Error != "" {
			fmt.Printf("  error: %s\n", result.Error)
		}
	}
	return nil
}

// runHarvestAdd seeds the queue with a topic.
func runHarvestAdd(ctx context.Context, a *app.App, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: fixwise harvest add TOPIC [PRIORITY]")
	}
	topic := args[0]
	priority := 5
	if len(args) > 1 {
		p, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid priority: %s", args[1])
		}
		priority = p
	}

	id, err := a.Queue.Enqueue(ctx, topic, "de", knowledge.CategoryErrorCode, priority)
	if err != nil {
		return fmt.Errorf("enqueueing topic: %w", err)
	}
	fmt.Printf("queued %s (id %s, priority %d)\n", topic, id, priority)
	return nil
}

func runHarvestStatus(ctx context.Context, a *app.App) error {
	n, err := a.Queue.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("counting pending topics: %w", err)
	}
	fmt.Printf("%d pending topics\n", n)
	return nil
}
