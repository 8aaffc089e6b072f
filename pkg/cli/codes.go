package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/aimoverse/aimo-gateway/pkg/async"
	"github.com/aimoverse/aimo-gateway/pkg/invitation"
)

func newCodesCommand(env *Env) *Command {
	return &Command{
		Name:        "codes",
		Description: "Generate and list invitation codes",
		Subcommands: map[string]*Command{
			"generate": newGenerateCodesCommand(env),
			"list":     newListCodesCommand(env),
		},
	}
}

func newGenerateCodesCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "generate",
		Description: "Generate invitation codes",
		Flags:       flag.NewFlagSet("generate", flag.ContinueOnError),
	}
	count := cmd.Flags.Int("count", 1, "Number of codes to generate")
	workers := cmd.Flags.Int("workers", 4, "Concurrent inserts")

	cmd.Run = func(ctx context.Context, args []string) error {
		if *count <= 0 {
			return errors.New("count must be positive")
		}
		store, err := env.Store(ctx)
		if err != nil {
			return err
		}

		var (
			mu    sync.Mutex
			codes []*invitation.Code
		)
		slots := make([]int, *count)
		errs := async.Batch(ctx, slots, *workers, 10*time.Second, func(ctx context.Context, _ int) error {
			code, err := store.Generate(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			codes = append(codes, code)
			mu.Unlock()
			return nil
		})

		for _, c := range codes {
			fmt.Fprintf(env.Out, "%s\t%s\n", c.Code, c.ExpiresAt.UTC().Format(time.RFC3339))
		}
		env.Logger.WithField("generated", len(codes)).Info("Invitation codes generated")
		if len(errs) > 0 {
			return fmt.Errorf("%d of %d codes failed: %w", len(errs), *count, errors.Join(errs...))
		}
		return nil
	}
	return cmd
}

func newListCodesCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "list",
		Description: "List available invitation codes",
		Flags:       flag.NewFlagSet("list", flag.ContinueOnError),
	}
	limit := cmd.Flags.Int("limit", invitation.DefaultListLimit, "Maximum codes to list")

	cmd.Run = func(ctx context.Context, args []string) error {
		store, err := env.Store(ctx)
		if err != nil {
			return err
		}
		codes, err := store.ListAvailable(ctx, *limit)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CODE\tEXPIRES\tCREATED")
		for _, c := range codes {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Code,
				c.ExpiresAt.UTC().Format(time.RFC3339),
				c.CreatedAt.UTC().Format(time.RFC3339))
		}
		return tw.Flush()
	}
	return cmd
}
