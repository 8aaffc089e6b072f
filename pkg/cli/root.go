package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/aimoverse/aimo-gateway/pkg/auth"
	"github.com/aimoverse/aimo-gateway/pkg/config"
	"github.com/aimoverse/aimo-gateway/pkg/invitation"
	"github.com/aimoverse/aimo-gateway/pkg/storage"
	"github.com/aimoverse/aimo-gateway/pkg/usage"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Env is what every command runs against. Connections are opened on first
// use so commands that need neither database nor Redis work offline.
type Env struct {
	Config *config.Config
	Logger *logrus.Logger
	Out    io.Writer

	// OpenDB and OpenRedis default to the storage package constructors.
	OpenDB    func(ctx context.Context, cfg storage.Config) (*sql.DB, error)
	OpenRedis func(ctx context.Context, cfg storage.Config) (redis.Cmdable, error)

	db      *sql.DB
	rdb     redis.Cmdable
	closers []func() error
}

// NewEnv creates an Env that writes to stdout.
func NewEnv(cfg *config.Config, logger *logrus.Logger) *Env {
	return &Env{
		Config: cfg,
		Logger: logger,
		Out:    os.Stdout,
		OpenDB: storage.OpenPostgres,
		OpenRedis: func(ctx context.Context, cfg storage.Config) (redis.Cmdable, error) {
			return storage.NewRedisClient(ctx, cfg)
		},
	}
}

// DB opens the database once.
func (e *Env) DB(ctx context.Context) (*sql.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	db, err := e.OpenDB(ctx, e.Config.Storage)
	if err != nil {
		return nil, err
	}
	e.db = db
	e.closers = append(e.closers, db.Close)
	return db, nil
}

// Store returns the invitation store configured with the code lifetimes.
func (e *Env) Store(ctx context.Context) (*invitation.SQLStore, error) {
	db, err := e.DB(ctx)
	if err != nil {
		return nil, err
	}
	return invitation.NewSQLStore(db,
		invitation.WithUnboundTTL(e.Config.Invitation.UnboundTTL),
		invitation.WithBoundTTL(e.Config.Invitation.BoundTTL),
	), nil
}

// Counter returns the usage counter, connecting to Redis once.
func (e *Env) Counter(ctx context.Context) (*usage.Counter, error) {
	if e.rdb == nil {
		rdb, err := e.OpenRedis(ctx, e.Config.Storage)
		if err != nil {
			return nil, err
		}
		e.rdb = rdb
		if c, ok := rdb.(io.Closer); ok {
			e.closers = append(e.closers, c.Close)
		}
	}
	loc, err := e.Config.Usage.Location()
	if err != nil {
		return nil, err
	}
	return usage.NewCounter(e.rdb,
		usage.WithPrefix(e.Config.Usage.KeyPrefix),
		usage.WithLocation(loc),
	), nil
}

// Issuer builds the credential issuer from the auth settings.
func (e *Env) Issuer() (*auth.Issuer, error) {
	return auth.NewIssuer(auth.Config{
		Secret:       []byte(e.Config.Auth.JWTSecret),
		Algorithm:    e.Config.Auth.Algorithm,
		Expiry:       e.Config.Auth.TokenExpiry,
		DefaultQuota: e.Config.Auth.DefaultQuota,
	})
}

// Close releases every connection the commands opened.
func (e *Env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	root := &Command{
		Name:        "aimoctl",
		Description: "aimoctl - operator tool for the AIMO gateway",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("aimoctl", flag.ContinueOnError),
	}

	root.Subcommands["migrate"] = newMigrateCommand(env)
	root.Subcommands["purge"] = newPurgeCommand(env)
	root.Subcommands["codes"] = newCodesCommand(env)
	root.Subcommands["token"] = newTokenCommand(env)

	return root
}

// Execute dispatches args to the matching subcommand, parsing its flags
// first. A command without Run lists its subcommands.
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) > 0 && len(c.Subcommands) > 0 {
		if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
			return c.usage()
		}
		if sub, ok := c.Subcommands[args[0]]; ok {
			return sub.Execute(ctx, args[1:])
		}
		return fmt.Errorf("unknown command: %s", args[0])
	}

	if c.Run == nil {
		return c.usage()
	}
	if c.Flags != nil {
		if err := c.Flags.Parse(args); err != nil {
			return err
		}
		args = c.Flags.Args()
	}
	return c.Run(ctx, args)
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
