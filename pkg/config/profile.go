// Package config holds the settings a treeview run is made with: factory
// rules, walk limits and the endpoints of the optional outer services.
// Profiles are loaded from YAML or HCL files and may be overridden by flags.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/errors"
	"github.com/wehubfusion/treeview/pkg/factory"
	"github.com/wehubfusion/treeview/pkg/nodes"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Script configures a sniffer script. Exactly one of Path and Source is set.
type Script struct {
	Name    string `yaml:"name" hcl:"name,label"`
	Path    string `yaml:"path,omitempty" hcl:"path,optional"`
	Source  string `yaml:"source,omitempty" hcl:"source,optional"`
	Timeout string `yaml:"timeout,omitempty" hcl:"timeout,optional"`
}

// Profile is the complete configuration of a run.
type Profile struct {
	// Factory rules, applied in the order prefer, deprecate, shun.
	Prefer    []string `yaml:"prefer,omitempty" hcl:"prefer,optional"`
	Deprecate []string `yaml:"deprecate,omitempty" hcl:"deprecate,optional"`
	Shun      []string `yaml:"shun,omitempty" hcl:"shun,optional"`

	FaultPolicy  string   `yaml:"fault_policy,omitempty" hcl:"fault_policy,optional"`
	BuildTimeout string   `yaml:"build_timeout,omitempty" hcl:"build_timeout,optional"`
	Disable      []string `yaml:"disable,omitempty" hcl:"disable,optional"`
	MaxZipBuffer int64    `yaml:"max_zip_buffer,omitempty" hcl:"max_zip_buffer,optional"`
	MaxAncestors int      `yaml:"max_ancestors,omitempty" hcl:"max_ancestors,optional"`
	Debug        bool     `yaml:"debug,omitempty" hcl:"debug,optional"`
	Scripts      []Script `yaml:"scripts,omitempty" hcl:"script,block"`

	Depth   int    `yaml:"depth,omitempty" hcl:"depth,optional"`
	Workers int    `yaml:"workers,omitempty" hcl:"workers,optional"`
	Format  string `yaml:"format,omitempty" hcl:"format,optional"`

	LogLevel  string `yaml:"log_level,omitempty" hcl:"log_level,optional"`
	LogFormat string `yaml:"log_format,omitempty" hcl:"log_format,optional"`

	BlobConnectionString string `yaml:"blob_connection_string,omitempty" hcl:"blob_connection_string,optional"`
	OTLPEndpoint         string `yaml:"otlp_endpoint,omitempty" hcl:"otlp_endpoint,optional"`
	OTLPProtocol         string `yaml:"otlp_protocol,omitempty" hcl:"otlp_protocol,optional"`
	SentryDSN            string `yaml:"sentry_dsn,omitempty" hcl:"sentry_dsn,optional"`
	NATSURL              string `yaml:"nats_url,omitempty" hcl:"nats_url,optional"`
	NATSSubject          string `yaml:"nats_subject,omitempty" hcl:"nats_subject,optional"`
}

// Default returns the profile used when no file is given.
func Default() Profile {
	var p Profile
	p.fillDefaults()
	return p
}

// fillDefaults sets every unset field to its default.
func (p *Profile) fillDefaults() {
	if p.FaultPolicy == "" {
		p.FaultPolicy = string(factory.FaultStop)
	}
	if p.MaxZipBuffer == 0 {
		p.MaxZipBuffer = factory.DefaultMaxZipBuffer
	}
	if p.MaxAncestors == 0 {
		p.MaxAncestors = 64
	}
	if p.Depth == 0 {
		p.Depth = 1
	}
	if p.Format == "" {
		p.Format = FormatText
	}
	if p.LogLevel == "" {
		p.LogLevel = "info"
	}
	if p.LogFormat == "" {
		p.LogFormat = "text"
	}
	if p.OTLPProtocol == "" {
		p.OTLPProtocol = "http"
	}
	if p.NATSSubject == "" {
		p.NATSSubject = "treeview.nodes"
	}
}

// Validate reports every problem with the profile at once.
func (p Profile) Validate() error {
	var errs error
	reg := nodes.DefaultRegistry()
	for _, list := range []struct {
		name  string
		types []string
	}{{"prefer", p.Prefer}, {"deprecate", p.Deprecate}, {"shun", p.Shun}} {
		for _, t := range list.types {
			if _, ok := reg.Lookup(datanode.NodeType(t)); !ok {
				errs = multierr.Append(errs, fmt.Errorf("%s: unknown node type %q", list.name, t))
			}
		}
	}
	if _, err := factory.ParseFaultPolicy(p.FaultPolicy); err != nil {
		errs = multierr.Append(errs, err)
	}
	if p.BuildTimeout != "" {
		if d, err := time.ParseDuration(p.BuildTimeout); err != nil || d < 0 {
			errs = multierr.Append(errs, fmt.Errorf("build_timeout: invalid duration %q", p.BuildTimeout))
		}
	}
	for _, s := range p.Disable {
		switch datanode.Subsystem(s) {
		case datanode.SubsystemHDS, datanode.SubsystemAST:
		default:
			errs = multierr.Append(errs, fmt.Errorf("disable: unknown subsystem %q", s))
		}
	}
	if p.MaxZipBuffer < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_zip_buffer cannot be negative"))
	}
	if p.MaxAncestors < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_ancestors cannot be negative"))
	}
	if p.Depth < 0 {
		errs = multierr.Append(errs, fmt.Errorf("depth cannot be negative"))
	}
	if p.Workers < 0 {
		errs = multierr.Append(errs, fmt.Errorf("workers cannot be negative"))
	}
	if !slices.Contains([]string{FormatText, FormatJSON, FormatYAML}, p.Format) {
		errs = multierr.Append(errs, fmt.Errorf("format: unknown output format %q", p.Format))
	}
	if _, err := zap.ParseAtomicLevel(p.LogLevel); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log_level: %w", err))
	}
	if p.LogFormat != "text" && p.LogFormat != "json" {
		errs = multierr.Append(errs, fmt.Errorf("log_format: unknown log format %q", p.LogFormat))
	}
	if p.OTLPProtocol != "http" && p.OTLPProtocol != "grpc" {
		errs = multierr.Append(errs, fmt.Errorf("otlp_protocol: unknown protocol %q", p.OTLPProtocol))
	}
	seen := map[string]bool{}
	for _, s := range p.Scripts {
		switch {
		case s.Name == "":
			errs = multierr.Append(errs, fmt.Errorf("script: name cannot be empty"))
		case seen[s.Name]:
			errs = multierr.Append(errs, fmt.Errorf("script %s: defined twice", s.Name))
		}
		seen[s.Name] = true
		if (s.Path == "") == (s.Source == "") {
			errs = multierr.Append(errs, fmt.Errorf("script %s: exactly one of path and source must be set", s.Name))
		}
		if s.Timeout != "" {
			if _, err := time.ParseDuration(s.Timeout); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("script %s: invalid timeout %q", s.Name, s.Timeout))
			}
		}
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, errs)
	}
	return nil
}

// Capabilities returns the subsystems left enabled.
func (p Profile) Capabilities() factory.Capabilities {
	caps := factory.DefaultCapabilities()
	for _, s := range p.Disable {
		switch datanode.Subsystem(s) {
		case datanode.SubsystemHDS:
			caps.HDS = false
		case datanode.SubsystemAST:
			caps.AST = false
		}
	}
	return caps
}

// FactoryOptions converts the profile into factory options, loading and
// compiling its scripts. The profile should have been validated.
func (p Profile) FactoryOptions() ([]factory.Option, error) {
	policy, err := factory.ParseFaultPolicy(p.FaultPolicy)
	if err != nil {
		return nil, err
	}
	opts := []factory.Option{
		factory.WithFaultPolicy(policy),
		factory.WithCapabilities(p.Capabilities()),
		factory.WithMaxZipBuffer(p.MaxZipBuffer),
		factory.WithMaxAncestors(p.MaxAncestors),
		factory.WithDebug(p.Debug),
	}
	if p.BuildTimeout != "" {
		d, err := time.ParseDuration(p.BuildTimeout)
		if err != nil {
			return nil, fmt.Errorf("build_timeout: %w", err)
		}
		opts = append(opts, factory.WithBuildTimeout(d))
	}

	scripts := make([]*factory.ScriptBuilder, 0, len(p.Scripts))
	for _, s := range p.Scripts {
		sb, err := s.load()
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, sb)
	}
	if len(scripts) > 0 {
		opts = append(opts, factory.WithScripts(scripts...))
	}
	return opts, nil
}

func (s Script) load() (*factory.ScriptBuilder, error) {
	source := s.Source
	if s.Path != "" {
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", s.Name, err)
		}
		source = string(data)
	}
	var timeout time.Duration
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", s.Name, err)
		}
		timeout = d
	}
	return factory.NewScriptBuilder(s.Name, source, timeout)
}

// Apply changes the builder list of f according to the prefer, deprecate and
// shun lists. Every rule is attempted; the failures are returned together.
func (p Profile) Apply(f *factory.Factory) error {
	var errs error
	for _, t := range p.Prefer {
		errs = multierr.Append(errs, f.Prefer(datanode.NodeType(t)))
	}
	for _, t := range p.Deprecate {
		errs = multierr.Append(errs, f.Deprecate(datanode.NodeType(t)))
	}
	for _, t := range p.Shun {
		f.Shun(datanode.NodeType(t))
	}
	return errs
}

// WithPrefer adds node types to prefer.
func (p Profile) WithPrefer(types ...string) Profile {
	p.Prefer = appendUnique(p.Prefer, types)
	return p
}

// WithDeprecate adds node types to deprecate.
func (p Profile) WithDeprecate(types ...string) Profile {
	p.Deprecate = appendUnique(p.Deprecate, types)
	return p
}

// WithShun adds node types to shun.
func (p Profile) WithShun(types ...string) Profile {
	p.Shun = appendUnique(p.Shun, types)
	return p
}

// WithFaultPolicy sets the fault policy.
func (p Profile) WithFaultPolicy(policy factory.FaultPolicy) Profile {
	p.FaultPolicy = string(policy)
	return p
}

// WithDepth sets the walk depth.
func (p Profile) WithDepth(depth int) Profile {
	p.Depth = depth
	return p
}

// WithFormat sets the output format.
func (p Profile) WithFormat(format string) Profile {
	p.Format = format
	return p
}

// WithWorkers sets the number of concurrent node expansions.
func (p Profile) WithWorkers(n int) Profile {
	p.Workers = n
	return p
}

// SplitList splits a comma separated flag value, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func appendUnique(list, items []string) []string {
	out := slices.Clone(list)
	for _, item := range items {
		if !slices.Contains(out, item) {
			out = append(out, item)
		}
	}
	return out
}
