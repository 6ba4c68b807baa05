// Package cli parses the treeview command line, merges it over the
// configuration profile and handles process-level concerns like exit codes.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wehubfusion/treeview/pkg/config"
	"github.com/wehubfusion/treeview/pkg/factory"
)

// ExitError is an error that carries a process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Usage errors exit with this code.
const ExitUsage = 2

// Options is the parsed command line.
type Options struct {
	Profile    config.Profile
	Items      []string
	Alternates bool
	Ancestors  bool
	Details    bool
	Metrics    bool
}

// Parse processes command-line arguments. It returns the options, a boolean
// indicating that the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*Options, bool, error) {
	fs := flag.NewFlagSet("treeview", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, `
treeview - show what data nodes can be made from files, URLs and names.

Usage:
  treeview [options] item...

Arguments:
  item
    A file or directory path, an azblob://container/path URL, or any other
    string, which is shown as text.

Options:
`)
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "Profile file (.yaml, .yml or .hcl).")
	prefer := fs.String("prefer", "", "Comma separated node types to try first.")
	shun := fs.String("shun", "", "Comma separated node types never to make.")
	deprecate := fs.String("deprecate", "", "Comma separated node types to try last.")
	depth := fs.Int("depth", 1, "Levels of children to expand below each item.")
	format := fs.String("format", config.FormatText, "Output format: text, json or yaml.")
	workers := fs.Int("workers", 0, "Nodes whose children are read at once. 0 picks from the CPU count.")
	debug := fs.Bool("debug", false, "Record a dispatch trace for every node.")
	strict := fs.Bool("strict", false, "Stop at the first builder fault (the default).")
	lenient := fs.Bool("lenient", false, "Log builder faults and try the next builder.")
	buildTimeout := fs.String("build-timeout", "", "Bound on a single builder attempt, e.g. 2s.")
	script := fs.String("script", "", "Comma separated sniffer script files.")
	alternates := fs.Bool("alternates", false, "List the alternative interpretations of each item.")
	ancestors := fs.Bool("ancestors", false, "Show the ancestors of each item.")
	details := fs.Bool("details", false, "Include node details in the output.")
	metrics := fs.Bool("metrics", false, "Log dispatch counters on exit.")
	logLevel := fs.String("log-level", "info", "Logging level: debug, info, warn or error.")
	logFormat := fs.String("log-format", "text", "Log output format: text or json.")
	otlpEndpoint := fs.String("otlp-endpoint", "", "OTLP collector host:port. Tracing is off when empty.")
	otlpProtocol := fs.String("otlp-protocol", "http", "OTLP transport: http or grpc.")
	sentryDSN := fs.String("sentry-dsn", "", "Sentry DSN for builder fault reports.")
	natsURL := fs.String("nats-url", "", "NATS server to publish node summaries to.")
	natsSubject := fs.String("nats-subject", "treeview.nodes", "NATS subject for node summaries.")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return nil, true, nil
	}
	if *strict && *lenient {
		return nil, false, &ExitError{Code: ExitUsage, Message: "--strict and --lenient cannot be combined"}
	}

	profile := config.Default()
	if *configPath != "" {
		p, err := config.Load(*configPath)
		if err != nil {
			return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
		}
		profile = p
	}
	if profile.BlobConnectionString == "" {
		profile.BlobConnectionString = os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
	}

	// Flags given on the command line override the profile.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "prefer":
			profile = profile.WithPrefer(config.SplitList(*prefer)...)
		case "shun":
			profile = profile.WithShun(config.SplitList(*shun)...)
		case "deprecate":
			profile = profile.WithDeprecate(config.SplitList(*deprecate)...)
		case "depth":
			profile = profile.WithDepth(*depth)
		case "format":
			profile = profile.WithFormat(strings.ToLower(*format))
		case "workers":
			profile = profile.WithWorkers(*workers)
		case "debug":
			profile.Debug = *debug
		case "strict":
			profile = profile.WithFaultPolicy(factory.FaultStop)
		case "lenient":
			profile = profile.WithFaultPolicy(factory.FaultContinue)
		case "build-timeout":
			profile.BuildTimeout = *buildTimeout
		case "script":
			for _, path := range config.SplitList(*script) {
				profile.Scripts = append(profile.Scripts, config.Script{Name: filepath.Base(path), Path: path})
			}
		case "log-level":
			profile.LogLevel = strings.ToLower(*logLevel)
		case "log-format":
			profile.LogFormat = strings.ToLower(*logFormat)
		case "otlp-endpoint":
			profile.OTLPEndpoint = *otlpEndpoint
		case "otlp-protocol":
			profile.OTLPProtocol = strings.ToLower(*otlpProtocol)
		case "sentry-dsn":
			profile.SentryDSN = *sentryDSN
		case "nats-url":
			profile.NATSURL = *natsURL
		case "nats-subject":
			profile.NATSSubject = *natsSubject
		}
	})
	if err := profile.Validate(); err != nil {
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}

	return &Options{
		Profile:    profile,
		Items:      fs.Args(),
		Alternates: *alternates,
		Ancestors:  *ancestors,
		Details:    *details,
		Metrics:    *metrics,
	}, false, nil
}
