package factory

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/nodes"
	"github.com/wehubfusion/treeview/pkg/storage"
)

// FaultPolicy decides what dispatch does after a builder faults.
type FaultPolicy string

const (
	// FaultStop aborts dispatch and returns the fault to the caller.
	FaultStop FaultPolicy = "stop"
	// FaultContinue logs the fault and moves on to the next builder.
	FaultContinue FaultPolicy = "continue"
)

// ParseFaultPolicy converts a configuration string to a FaultPolicy.
func ParseFaultPolicy(s string) (FaultPolicy, error) {
	switch FaultPolicy(s) {
	case FaultStop, FaultContinue:
		return FaultPolicy(s), nil
	case "":
		return FaultStop, nil
	default:
		return "", fmt.Errorf("unknown fault policy %q", s)
	}
}

// Capabilities records which optional subsystems are present.
type Capabilities struct {
	HDS bool
	AST bool
}

// DefaultCapabilities enables every subsystem.
func DefaultCapabilities() Capabilities {
	return Capabilities{HDS: true, AST: true}
}

// Has reports whether a subsystem is present.
func (c Capabilities) Has(s datanode.Subsystem) bool {
	switch s {
	case datanode.SubsystemHDS:
		return c.HDS
	case datanode.SubsystemAST:
		return c.AST
	default:
		return false
	}
}

// DefaultMaxZipBuffer is the largest zip stream buffered in memory so that
// its entries can be listed.
const DefaultMaxZipBuffer = 64 << 20

// settings are shared by a factory, its copies and its derived child factories.
type settings struct {
	logger       *zap.Logger
	tracer       trace.Tracer
	registry     *datanode.Registry
	caps         Capabilities
	specials     bool
	policy       FaultPolicy
	buildTimeout time.Duration
	reporter     Reporter
	scripts      []*ScriptBuilder
	blobs        storage.BlobReader
	maxZipBuffer int64
	debug        bool
	metrics      *Metrics
	maxAncestors int
}

// Option configures a Factory.
type Option func(*settings)

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry replaces the node type registry.
func WithRegistry(reg *datanode.Registry) Option {
	return func(s *settings) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// WithCapabilities declares which optional subsystems are present.
func WithCapabilities(caps Capabilities) Option {
	return func(s *settings) {
		s.caps = caps
	}
}

// WithoutSpecialBuilders leaves the routing builders out of the default list.
func WithoutSpecialBuilders() Option {
	return func(s *settings) {
		s.specials = false
	}
}

// WithFaultPolicy sets what happens after a builder fault.
func WithFaultPolicy(p FaultPolicy) Option {
	return func(s *settings) {
		s.policy = p
	}
}

// WithBuildTimeout bounds each builder attempt. Zero means no bound.
func WithBuildTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.buildTimeout = d
	}
}

// WithReporter sends every builder fault to r.
func WithReporter(r Reporter) Option {
	return func(s *settings) {
		s.reporter = r
	}
}

// WithScripts adds script sniffers ahead of the built-in routing builders.
func WithScripts(scripts ...*ScriptBuilder) Option {
	return func(s *settings) {
		s.scripts = append(s.scripts, scripts...)
	}
}

// WithBlobReader enables azblob:// strings to be resolved.
func WithBlobReader(r storage.BlobReader) Option {
	return func(s *settings) {
		s.blobs = r
	}
}

// WithMaxZipBuffer sets the largest zip stream buffered for listing.
func WithMaxZipBuffer(n int64) Option {
	return func(s *settings) {
		s.maxZipBuffer = n
	}
}

// WithDebug enables dispatch traces from the start.
func WithDebug(debug bool) Option {
	return func(s *settings) {
		s.debug = debug
	}
}

// WithMaxAncestors bounds how many ancestors FillInAncestors creates.
func WithMaxAncestors(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxAncestors = n
		}
	}
}

func defaultSettings() *settings {
	return &settings{
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("treeview/factory"),
		registry:     nodes.DefaultRegistry(),
		caps:         DefaultCapabilities(),
		specials:     true,
		policy:       FaultStop,
		maxZipBuffer: DefaultMaxZipBuffer,
		metrics:      &Metrics{},
		maxAncestors: 64,
	}
}
