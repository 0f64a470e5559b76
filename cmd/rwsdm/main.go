// Command rwsdm rewrites a query from the command line and prints the
// weighted expression. With -import-stats it loads a statistics file into
// the postgres term_stats table instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/app"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/rewriter"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/stats"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/logger"
)

// lambdaFlags collects repeated -p name=value flags.
type lambdaFlags map[string]float64

func (l lambdaFlags) String() string {
	parts := make([]string, 0, len(l))
	for k, v := range l {
		parts = append(parts, k+"="+strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.Join(parts, ",")
}

func (l lambdaFlags) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("lambda for %s: %w", name, err)
	}
	l[name] = v
	return nil
}

type cli struct {
	configPath  string
	lambdas     lambdaFlags
	part        string
	pretty      bool
	verbose     bool
	importStats string
	args        []string
}

func parseArgs(args []string) (*cli, error) {
	c := &cli{lambdas: lambdaFlags{}}
	fs := flag.NewFlagSet("rwsdm", flag.ContinueOnError)
	fs.StringVar(&c.configPath, "config", "", "path to config file")
	fs.Var(c.lambdas, "p", "feature lambda as name=value (repeatable)")
	fs.StringVar(&c.part, "part", "", "index partition for term statistics")
	fs.BoolVar(&c.pretty, "pretty", false, "print the expression one node per line")
	fs.BoolVar(&c.verbose, "verbose", false, "log every feature contribution")
	fs.StringVar(&c.importStats, "import-stats", "", "load a statistics file into postgres and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	c.args = fs.Args()
	if c.importStats == "" && len(c.args) == 0 {
		return nil, fmt.Errorf("no query given")
	}
	return c, nil
}

// queryNode parses a single structured argument as-is and treats anything
// else as free text.
func (c *cli) queryNode() (*query.Node, error) {
	return query.Parse(strings.Join(c.args, " "))
}

func main() {
	c, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "rwsdm: %v\nusage: rwsdm [-config file] [-p name=value]... [-part p] query terms...\n", err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, c, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "rwsdm: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli, out io.Writer) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.verbose {
		cfg.Rewriter.Verbose = true
	}
	logger.SetupWriter(os.Stderr, cfg.Logging.Level, "text")

	if c.importStats != "" {
		cfg.Stats.Backend = app.BackendPostgres
		cfg.Redis.Enabled = false
	}
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.importStats != "" {
		return importStats(ctx, a.Store, c.importStats, out)
	}

	root, err := c.queryNode()
	if err != nil {
		return err
	}
	rewritten, err := a.Rewriter.Rewrite(ctx, root, rewriter.Params{Lambdas: c.lambdas, Part: c.part})
	if err != nil {
		return err
	}
	if c.pretty {
		_, err = io.WriteString(out, rewritten.PrettyString())
		return err
	}
	_, err = fmt.Fprintln(out, rewritten.String())
	return err
}

func importStats(ctx context.Context, store *stats.Postgres, path string, out io.Writer) error {
	static, err := stats.LoadStatic(path)
	if err != nil {
		return err
	}
	if err := store.Import(ctx, static.Entries()); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "imported %d statistics rows from %s\n", static.Len(), path)
	return err
}
