package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/aimoverse/aimo-gateway/pkg/invitation"
)

func newMigrateCommand(env *Env) *Command {
	return &Command{
		Name:        "migrate",
		Description: "Apply database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
		Run: func(ctx context.Context, args []string) error {
			db, err := env.DB(ctx)
			if err != nil {
				return err
			}
			if err := invitation.Migrate(ctx, db); err != nil {
				return err
			}
			env.Logger.Info("Migrations applied")
			return nil
		},
	}
}

func newPurgeCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "purge",
		Description: "Delete expired invitation codes that were never used",
		Flags:       flag.NewFlagSet("purge", flag.ContinueOnError),
	}
	grace := cmd.Flags.Duration("grace", 0, "Keep codes that expired less than this long ago")

	cmd.Run = func(ctx context.Context, args []string) error {
		store, err := env.Store(ctx)
		if err != nil {
			return err
		}
		n, err := store.PurgeDead(ctx, time.Now().Add(-*grace))
		if err != nil {
			return err
		}
		env.Logger.WithField("removed", n).Info("Purged dead invitation codes")
		fmt.Fprintf(env.Out, "%d\n", n)
		return nil
	}
	return cmd
}
