/*
budgetctl - Admin CLI for the budget engine

USAGE:
  budgetctl [-db PATH] <command> [flags]

COMMANDS:
  bootstrap  -seed FILE         apply a JSON seed, ensure Live budgets for the horizon
  verify                        check invariants; exit status 1 on violations
  refresh    -budget NAME [-reason TEXT]
                                manual refresh of a Live draft
  snapshot   -budget NAME       create a Snapshot from a Live draft
  set-active -budget NAME       mark a budget active for its year and type
  cap        -year Y -cost-center CC [-children]
                                print the cap of a cost center
  enqueue    -years Y1,Y2       refresh the Live drafts of the given years inline

Results are printed as JSON. The database path defaults to BUDGET_DB_PATH.
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/config"
	"github.com/warp/budget-engine/factory"
	"github.com/warp/budget-engine/logger"
	"github.com/warp/budget-engine/store/sqlite"
)

var errViolations = errors.New("invariant violations found")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	global := flag.NewFlagSet("budgetctl", flag.ExitOnError)
	dbPath := global.String("db", cfg.DBPath, "SQLite database path")
	user := global.String("user", budget.SystemUser, "acting user recorded on comments")
	global.Usage = usage
	global.Parse(os.Args[1:])
	if global.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	logger.Init(cfg.Env)
	log := logger.Get()
	defer logger.Sync()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalw("failed to open database", "path", *dbPath, "error", err)
	}
	defer store.Close()

	engine := budget.NewEngine(store, budget.WithSettings(cfg.Settings()), budget.WithLogger(log))
	ctx := budget.WithActor(context.Background(), budget.Actor{User: *user})

	cmd, args := global.Arg(0), global.Args()[1:]
	if err := run(ctx, engine, log, cmd, args); err != nil {
		if errors.Is(err, errViolations) {
			os.Exit(1)
		}
		log.Errorw("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, e *budget.Engine, log *zap.SugaredLogger, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	switch cmd {
	case "bootstrap":
		seedPath := fs.String("seed", "", "JSON seed file")
		fs.Parse(args)
		return bootstrap(ctx, e, *seedPath)

	case "verify":
		fs.Parse(args)
		vs, err := e.Verify(ctx)
		if err != nil {
			return err
		}
		for _, v := range vs {
			fmt.Println(v.String())
		}
		if len(vs) > 0 {
			return errViolations
		}
		log.Info("no violations")
		return nil

	case "refresh":
		name := fs.String("budget", "", "Live budget name")
		reason := fs.String("reason", "", "reason, recorded for closed years")
		fs.Parse(args)
		report, err := e.RefreshBudget(ctx, *name, budget.RefreshOptions{Manual: true, Reason: *reason})
		if err != nil {
			return err
		}
		return printJSON(report)

	case "snapshot":
		name := fs.String("budget", "", "Live budget name")
		fs.Parse(args)
		b, err := e.CreateSnapshot(ctx, *name)
		if err != nil {
			return err
		}
		return printJSON(b)

	case "set-active":
		name := fs.String("budget", "", "budget name")
		fs.Parse(args)
		b, err := e.SetActive(ctx, *name)
		if err != nil {
			return err
		}
		return printJSON(b)

	case "cap":
		year := fs.String("year", "", "fiscal year")
		cc := fs.String("cost-center", "", "cost center")
		children := fs.Bool("children", false, "include descendant cost centers")
		fs.Parse(args)
		res, err := e.GetSummary(ctx, *year, *cc, *children)
		if err != nil {
			return err
		}
		return printJSON(res)

	case "enqueue":
		years := fs.String("years", "", "comma-separated fiscal years")
		fs.Parse(args)
		names, err := e.EnqueueRefresh(ctx, splitList(*years))
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"budgets": names, "horizon": budget.Horizon(e.Today())})
	}
	usage()
	return fmt.Errorf("unknown command %q", cmd)
}

func bootstrap(ctx context.Context, e *budget.Engine, seedPath string) error {
	loader := factory.NewLoader()
	seed := &factory.Seed{}
	if seedPath != "" {
		var err error
		if seed, err = loader.ParseFile(seedPath); err != nil {
			return err
		}
	}
	for _, y := range budget.Horizon(e.Today()) {
		if !slices.Contains(seed.LiveBudgets, y) {
			seed.LiveBudgets = append(seed.LiveBudgets, y)
		}
	}
	report, err := loader.Apply(ctx, e, seed)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: budgetctl [-db PATH] [-user NAME] <command> [flags]

commands:
  bootstrap  -seed FILE
  verify
  refresh    -budget NAME [-reason TEXT]
  snapshot   -budget NAME
  set-active -budget NAME
  cap        -year Y -cost-center CC [-children]
  enqueue    -years Y1,Y2`)
}
