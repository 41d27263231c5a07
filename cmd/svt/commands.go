package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Mindburn-Labs/progression/pkg/catalog"
	"github.com/Mindburn-Labs/progression/pkg/config"
	"github.com/Mindburn-Labs/progression/pkg/stats"
	"github.com/Mindburn-Labs/progression/pkg/store"
)

type cmdOptions struct {
	cursor string
	limit  int
}

// command is one engine-backed subcommand. args names the positional
// arguments for usage output.
type command struct {
	args  []string
	flags func(fs *flag.FlagSet, o *cmdOptions)
	run   func(ctx context.Context, a *app, args []string, o cmdOptions) (any, error)
}

func (c command) usage() string {
	return strings.Join(c.args, " ")
}

var commands = map[string]command{
	"missions": {
		args: []string{"<customer>"},
		run: func(ctx context.Context, a *app, args []string, _ cmdOptions) (any, error) {
			return a.svc.GetAvailableMissions(ctx, args[0])
		},
	},
	"status": {
		args: []string{"<customer>", "<mission>"},
		run: func(ctx context.Context, a *app, args []string, _ cmdOptions) (any, error) {
			return a.svc.GetMissionStatus(ctx, args[0], args[1])
		},
	},
	"start": {
		args: []string{"<customer>", "<mission>"},
		run: func(ctx context.Context, a *app, args []string, _ cmdOptions) (any, error) {
			return a.svc.StartMission(ctx, args[0], args[1])
		},
	},
	"complete": {
		args: []string{"<customer>", "<mission>"},
		run: func(ctx context.Context, a *app, args []string, _ cmdOptions) (any, error) {
			return a.svc.CompleteMission(ctx, args[0], args[1])
		},
	},
	"evaluate": {
		args: []string{"<customer>"},
		run: func(ctx context.Context, a *app, args []string, _ cmdOptions) (any, error) {
			return a.svc.EvaluateAchievements(ctx, args[0])
		},
	},
	"achievements": {
		args: []string{"<customer>"},
		run: func(ctx context.Context, a *app, args []string, _ cmdOptions) (any, error) {
			return a.svc.GetAchievements(ctx, args[0])
		},
	},
	"balance": {
		args: []string{"<customer>"},
		run: func(ctx context.Context, a *app, args []string, _ cmdOptions) (any, error) {
			bal, err := a.svc.GetBalance(ctx, args[0])
			if err != nil {
				return nil, err
			}
			return map[string]any{"customer_id": args[0], "balance": bal}, nil
		},
	},
	"history": {
		args: []string{"<customer>"},
		flags: func(fs *flag.FlagSet, o *cmdOptions) {
			fs.StringVar(&o.cursor, "cursor", "", "Opaque cursor from a previous page")
			fs.IntVar(&o.limit, "limit", 0, "Page size (default 50, max 500)")
		},
		run: func(ctx context.Context, a *app, args []string, o cmdOptions) (any, error) {
			return a.svc.GetLedgerHistory(ctx, args[0], o.cursor, o.limit)
		},
	},
	"tier": {
		args: []string{"<customer>"},
		run: func(ctx context.Context, a *app, args []string, _ cmdOptions) (any, error) {
			tier, err := a.svc.GetTier(ctx, args[0])
			if err != nil {
				return nil, err
			}
			return map[string]any{"customer_id": args[0], "tier": tier}, nil
		},
	},
	"export": {
		args: []string{"<customer>"},
		run: func(ctx context.Context, a *app, args []string, _ cmdOptions) (any, error) {
			x, err := a.exporter(ctx)
			if err != nil {
				return nil, err
			}
			return x.Export(ctx, a.svc, args[0])
		},
	},
}

// runCatalogCmd implements `svt catalog check <file>`. It needs no database.
func runCatalogCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 || args[0] != "check" {
		_, _ = fmt.Fprintln(stderr, "Usage: svt catalog check <file>")
		return 2
	}
	cat, err := catalog.LoadFile(args[1])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	order := make([]string, 0, cat.Len())
	for _, m := range cat.Missions() {
		order = append(order, m.ID)
	}
	return emit(stdout, stderr, map[string]any{
		"valid":        true,
		"version":      cat.Version(),
		"missions":     order,
		"achievements": len(cat.Achievements()),
	})
}

// runStatsCmd implements `svt stats import <file>`: it copies a YAML fixture
// into the customer_stats table the engine reads when no fixture is set.
func runStatsCmd(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 || args[0] != "import" {
		_, _ = fmt.Fprintln(stderr, "Usage: svt stats import <file>")
		return 2
	}
	src, err := stats.LoadFile(args[1])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = st.Close() }()

	dst := stats.NewSQLProvider(st.DB())
	if err := dst.Init(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	n, err := dst.Import(ctx, src)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return emit(stdout, stderr, map[string]any{"imported": n})
}

func openStore(ctx context.Context, cfg *config.Config) (*store.SQL, error) {
	if cfg.LiteMode() {
		return store.OpenSQLite(ctx, liteDBPath(cfg))
	}
	return store.OpenPostgres(ctx, cfg.DatabaseURL)
}
