// Package walk expands data trees to a fixed depth and captures the result
// as a Snapshot that can be rendered or streamed to a Sink.
package walk

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/treeview/pkg/concurrency"
	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/errors"
)

// Entry is the captured state of one node.
type Entry struct {
	Path        string            `json:"path" yaml:"path"`
	Label       string            `json:"label" yaml:"label"`
	Type        datanode.NodeType `json:"type" yaml:"type"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Details     []datanode.Detail `json:"details,omitempty" yaml:"details,omitempty"`
	Depth       int               `json:"depth" yaml:"depth"`
	Expandable  bool              `json:"expandable" yaml:"expandable"`
	Children    []*Entry          `json:"children,omitempty" yaml:"children,omitempty"`
}

// Snapshot is the result of a walk.
type Snapshot struct {
	Roots   []*Entry      `json:"roots" yaml:"roots"`
	Nodes   int           `json:"nodes" yaml:"nodes"`
	Elapsed time.Duration `json:"elapsed_ns" yaml:"elapsed"`
}

// Visit calls fn for every entry depth first, parents before children. It
// stops at the first error.
func (s *Snapshot) Visit(fn func(*Entry) error) error {
	var visit func(entries []*Entry) error
	visit = func(entries []*Entry) error {
		for _, e := range entries {
			if err := fn(e); err != nil {
				return err
			}
			if err := visit(e.Children); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(s.Roots)
}

// Sink receives the entries of a finished walk in Visit order.
type Sink interface {
	Emit(ctx context.Context, e *Entry) error
}

// Walker expands nodes, reading the children of at most a limited number of
// nodes at once.
type Walker struct {
	limiter *concurrency.Limiter
	logger  *zap.Logger
	tracer  trace.Tracer
	details bool
	sinks   []Sink
}

// Option configures a Walker.
type Option func(*Walker)

// WithLimiter bounds concurrent child enumeration.
func WithLimiter(l *concurrency.Limiter) Option {
	return func(w *Walker) {
		if l != nil {
			w.limiter = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Walker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDetails includes node details in entries.
func WithDetails(details bool) Option {
	return func(w *Walker) {
		w.details = details
	}
}

// WithSink adds a sink that receives every entry once the walk is done.
func WithSink(s Sink) Option {
	return func(w *Walker) {
		if s != nil {
			w.sinks = append(w.sinks, s)
		}
	}
}

// New creates a walker. Without WithLimiter, four nodes are expanded at once.
func New(opts ...Option) *Walker {
	w := &Walker{
		limiter: concurrency.NewLimiter(4),
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("treeview/walk"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Walk expands roots to depth levels below them; depth 0 captures the roots
// alone. Children are expanded concurrently but entries keep the order in
// which nodes return their children. A node that panics is captured as an
// error entry. Walk only fails when ctx ends or a sink fails.
func (w *Walker) Walk(ctx context.Context, roots []datanode.Node, depth int) (*Snapshot, error) {
	ctx, span := w.tracer.Start(ctx, "walk.Walk", trace.WithAttributes(
		attribute.Int("roots", len(roots)),
		attribute.Int("depth", depth)))
	defer span.End()

	start := time.Now()
	snap := &Snapshot{Roots: make([]*Entry, len(roots))}
	var mu sync.Mutex
	count := 0
	err := w.expandAll(ctx, roots, snap.Roots, "", 0, depth, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	snap.Nodes = count
	snap.Elapsed = time.Since(start)
	span.SetAttributes(attribute.Int("nodes", count))
	w.logger.Debug("Walk finished",
		zap.Int("nodes", count),
		zap.Duration("elapsed", snap.Elapsed),
		zap.Int("workers", w.limiter.Capacity()),
		zap.Int64("peak_concurrent", w.limiter.GetMetrics().PeakConcurrent),
		zap.Duration("avg_wait", w.limiter.GetAverageWaitTime()))

	for _, s := range w.sinks {
		if err := snap.Visit(func(e *Entry) error { return s.Emit(ctx, e) }); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

func (w *Walker) expandAll(ctx context.Context, nodes []datanode.Node, out []*Entry, parent string, level, depth int, counted func()) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var first error
	for i, n := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := w.expand(ctx, n, parent, level, depth, counted)
			out[i] = e
			if err != nil {
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if first != nil && ctx.Err() != nil && !errors.IsCancelled(first) {
		return errors.Cancelled(ctx.Err())
	}
	return first
}

func (w *Walker) expand(ctx context.Context, n datanode.Node, parent string, level, depth int, counted func()) (*Entry, error) {
	counted()
	e, err := w.capture(n, parent, level)
	if err != nil {
		w.logger.Warn("Node could not be described", zap.String("parent", parent), zap.Error(err))
		return faultEntry(parent, fmt.Sprintf("%T", n), level, err), nil
	}
	if level >= depth || !e.Expandable {
		return e, nil
	}

	var kids []datanode.Node
	err = w.limiter.GoSync(ctx, func() error {
		var err error
		kids, err = children(ctx, n)
		return err
	})
	if err != nil && errors.IsFault(err) {
		w.logger.Warn("Node children could not be listed", zap.String("path", e.Path), zap.Error(err))
		if maker := n.ChildMaker(); maker != nil {
			kids, err = []datanode.Node{maker.MakeErrorNode(ctx, n, err)}, nil
		} else {
			counted()
			e.Children = []*Entry{faultEntry(e.Path, "children", level+1, err)}
			return e, nil
		}
	}
	if err != nil {
		w.logger.Debug("Walk interrupted", zap.String("path", e.Path), zap.Error(err))
		return e, err
	}
	e.Children = make([]*Entry, len(kids))
	return e, w.expandAll(ctx, kids, e.Children, e.Path, level+1, depth, counted)
}

// capture reads the entry of n. A panicking node yields a fault error.
func (w *Walker) capture(n datanode.Node, parent string, level int) (e *Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, err = nil, fmt.Errorf("%w: %T panicked: %v", errors.ErrFault, n, r)
		}
	}()
	e = &Entry{
		Path:        path.Join(parent, n.Label()),
		Label:       n.Label(),
		Type:        n.Type(),
		Description: n.Description(),
		Depth:       level,
		Expandable:  n.AllowsChildren(),
	}
	if w.details {
		e.Details = n.Details()
	}
	return e, nil
}

// children lists the children of n. A panic becomes a fault error.
func children(ctx context.Context, n datanode.Node) (kids []datanode.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			kids, err = nil, fmt.Errorf("%w: children of %T panicked: %v", errors.ErrFault, n, r)
		}
	}()
	return n.Children(ctx)
}

// faultEntry stands in for a node that failed while being walked.
func faultEntry(parent, label string, level int, err error) *Entry {
	return &Entry{
		Path:        path.Join(parent, label),
		Label:       label,
		Type:        datanode.TypeError,
		Description: err.Error(),
		Depth:       level,
	}
}
