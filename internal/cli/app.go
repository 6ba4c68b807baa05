package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wehubfusion/treeview/internal/faults"
	inats "github.com/wehubfusion/treeview/internal/nats"
	"github.com/wehubfusion/treeview/internal/tracing"
	"github.com/wehubfusion/treeview/pkg/concurrency"
	"github.com/wehubfusion/treeview/pkg/config"
	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/errors"
	"github.com/wehubfusion/treeview/pkg/factory"
	"github.com/wehubfusion/treeview/pkg/publish"
	"github.com/wehubfusion/treeview/pkg/storage"
	"github.com/wehubfusion/treeview/pkg/walk"
)

// Version is reported to the tracing backend.
var Version = "dev"

// NewLogger builds a logger writing to stderr. The text format is zap's
// development encoding without stack traces.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "text", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Labelled is a list of node labels belonging to one item.
type Labelled struct {
	Item  string   `json:"item" yaml:"item"`
	Nodes []string `json:"nodes" yaml:"nodes"`
}

// Report is everything a run prints.
type Report struct {
	Tree       *walk.Snapshot           `json:"tree" yaml:"tree"`
	Alternates []Labelled               `json:"alternates,omitempty" yaml:"alternates,omitempty"`
	Ancestors  []Labelled               `json:"ancestors,omitempty" yaml:"ancestors,omitempty"`
	Metrics    *factory.MetricsSnapshot `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// App runs treeview with a set of options.
type App struct {
	opts   *Options
	out    io.Writer
	logger *zap.Logger
}

// NewApp creates an app that writes its report to out.
func NewApp(out io.Writer, opts *Options, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{opts: opts, out: out, logger: logger}
}

// Run makes a node from every item, expands the nodes and prints the report.
// Items no node could be made from are shown as error nodes and make Run
// return an ExitError with code 1 once the report is written.
func (a *App) Run(ctx context.Context) error {
	p := a.opts.Profile

	if p.OTLPEndpoint != "" {
		shutdown, err := a.setupTracing(ctx)
		if err != nil {
			return err
		}
		defer tracing.ShutdownTracing(shutdown, a.logger)
	}

	f, cleanup, err := a.newFactory(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var roots []datanode.Node
	var failed []string
	for _, item := range a.opts.Items {
		node, err := f.MakeNode(ctx, nil, item)
		if err != nil {
			if errors.IsCancelled(err) {
				return err
			}
			a.logger.Warn("No node made", zap.String("item", item), zap.Error(err))
			failed = append(failed, item)
			node = f.MakeErrorNode(ctx, nil, err)
		}
		roots = append(roots, node)
	}

	walker, closeSink, err := a.newWalker(ctx)
	if err != nil {
		return err
	}
	defer closeSink()

	snap, err := walker.Walk(ctx, roots, p.Depth)
	if err != nil {
		return err
	}
	report := &Report{Tree: snap}

	for i, node := range roots {
		if a.opts.Alternates {
			alts, err := f.Alternates(ctx, node)
			if err != nil {
				return err
			}
			report.Alternates = append(report.Alternates, Labelled{Item: a.opts.Items[i], Nodes: describeNodes(alts)})
		}
		if a.opts.Ancestors {
			chain := f.FillInAncestors(ctx, node)
			report.Ancestors = append(report.Ancestors, Labelled{Item: a.opts.Items[i], Nodes: describeNodes(chain)})
		}
	}
	if a.opts.Metrics {
		m := f.Metrics().Snapshot()
		report.Metrics = &m
		a.logger.Info("Dispatch metrics", zap.Any("metrics", m))
	}

	if err := writeReport(a.out, report, p.Format); err != nil {
		return err
	}
	if len(failed) > 0 {
		return &ExitError{Code: 1, Message: fmt.Sprintf("no node could be made from %s", strings.Join(failed, ", "))}
	}
	return nil
}

func (a *App) setupTracing(ctx context.Context) (func(context.Context) error, error) {
	p := a.opts.Profile
	protocol, err := tracing.ParseProtocol(p.OTLPProtocol)
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	cfg := tracing.DefaultConfig("treeview")
	cfg.ServiceVersion = Version
	cfg.OTLPEndpoint = p.OTLPEndpoint
	cfg.Protocol = protocol
	return tracing.SetupTracing(ctx, cfg, a.logger)
}

// newFactory builds the factory described by the profile, with the fault
// reporter and blob reader it asks for.
func (a *App) newFactory(ctx context.Context) (*factory.Factory, func(), error) {
	p := a.opts.Profile
	opts, err := p.FactoryOptions()
	if err != nil {
		return nil, nil, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	opts = append(opts, factory.WithLogger(a.logger))

	cleanup := func() {}
	if p.SentryDSN != "" {
		reporter, err := faults.NewSentryReporter(faults.Config{DSN: p.SentryDSN, Release: Version}, a.logger)
		if err != nil {
			return nil, nil, &ExitError{Code: ExitUsage, Message: err.Error()}
		}
		opts = append(opts, factory.WithReporter(reporter))
		cleanup = func() { reporter.Flush(2 * time.Second) }
	}
	if p.BlobConnectionString != "" {
		blobs, err := storage.NewAzureBlobClient(p.BlobConnectionString, a.logger)
		if err != nil {
			return nil, nil, &ExitError{Code: ExitUsage, Message: err.Error()}
		}
		opts = append(opts, factory.WithBlobReader(blobs))
	}

	f := factory.New(opts...)
	if err := p.Apply(f); err != nil {
		return nil, nil, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	a.logger.Debug("Factory ready", zap.Stringer("factory", f))
	return f, cleanup, nil
}

// newWalker builds the walker, publishing to NATS when a server is configured.
func (a *App) newWalker(ctx context.Context) (*walk.Walker, func(), error) {
	p := a.opts.Profile
	limits := concurrency.LoadConfig(p.Workers)
	a.logger.Debug("Walk concurrency", zap.Stringer("config", limits))
	opts := []walk.Option{
		walk.WithLimiter(limits.NewLimiter()),
		walk.WithLogger(a.logger),
		walk.WithDetails(a.opts.Details),
	}
	if p.NATSURL == "" {
		return walk.New(opts...), func() {}, nil
	}

	nc := inats.DefaultConnectionConfig(p.NATSURL)
	nc.Subject = p.NATSSubject
	nc.Logger = a.logger
	conn, err := inats.Connect(ctx, nc)
	if err != nil {
		return nil, nil, err
	}
	pubCfg := publish.DefaultConfig()
	pubCfg.Subject = nc.Subject
	pubCfg.MaxRetries = nc.PublishMaxRetries
	pubCfg.Logger = a.logger
	pub, err := publish.NewPublisher(conn, pubCfg)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	a.logger.Info("Publishing node summaries",
		zap.String("subject", nc.Subject),
		zap.String("run_id", pub.RunID()))
	closeConn := func() {
		if err := inats.Close(conn); err != nil {
			a.logger.Warn("Failed to close NATS connection", zap.Error(err))
		}
	}
	return walk.New(append(opts, walk.WithSink(pub))...), closeConn, nil
}

func describeNodes(nodes []datanode.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, fmt.Sprintf("%s [%s]", n.Label(), n.Type()))
	}
	return out
}

func writeReport(w io.Writer, r *Report, format string) error {
	switch format {
	case config.FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		_, err = w.Write(append(data, '\n'))
		return err
	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	}

	if err := walk.Render(w, r.Tree, config.FormatText); err != nil {
		return err
	}
	for _, section := range []struct {
		title string
		lists []Labelled
	}{{"Alternates", r.Alternates}, {"Ancestors", r.Ancestors}} {
		for _, l := range section.lists {
			if _, err := fmt.Fprintf(w, "\n%s of %s:\n", section.title, l.Item); err != nil {
				return err
			}
			if len(l.Nodes) == 0 {
				fmt.Fprintln(w, "    (none)")
			}
			for _, n := range l.Nodes {
				fmt.Fprintf(w, "    %s\n", n)
			}
		}
	}
	if r.Metrics != nil {
		m := r.Metrics
		fmt.Fprintf(w, "\nDispatches: %d, attempts: %d, declines: %d, faults: %d, rejections: %d, exhausted: %d\n",
			m.Dispatches, m.Attempts, m.Declines, m.Faults, m.Rejections, m.Exhausted)
	}
	return nil
}
