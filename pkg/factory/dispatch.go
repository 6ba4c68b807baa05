package factory

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/beevik/etree"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/datasource"
	"github.com/wehubfusion/treeview/pkg/errors"
	"github.com/wehubfusion/treeview/pkg/nodes"
)

// MakeNode constructs a node from obj. Builders are tried in list order and
// the first node whose type is not shunned wins. The returned node carries
// its provenance and a child maker.
//
// MakeNode fails with a *DispatchExhaustedError when no builder succeeds,
// with a *errors.FaultError when a builder faults under FaultStop, and with
// an error matching errors.ErrCancelled when ctx ends first.
func (f *Factory) MakeNode(ctx context.Context, parent datanode.Node, obj any) (datanode.Node, error) {
	ctx, span := f.cfg.tracer.Start(ctx, "factory.MakeNode",
		trace.WithAttributes(attribute.String("object.type", fmt.Sprintf("%T", obj))))
	defer span.End()

	start := time.Now()
	defer func() {
		f.cfg.metrics.recordDispatch(time.Since(start))
	}()

	st := f.snapshot()
	d := &dispatch{factory: f, state: st, obj: obj, span: span}
	node, err := d.run(ctx, parent)
	span.SetAttributes(attribute.Int("builders.tried", len(d.tried)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no node made")
		return nil, err
	}
	span.SetAttributes(attribute.String("node.type", string(node.Type())))
	span.SetStatus(codes.Ok, "node made")
	return node, nil
}

// dispatch holds the bookkeeping of one MakeNode call.
type dispatch struct {
	factory *Factory
	state   state
	obj     any
	span    trace.Span
	tried   []string
	faults  []error
	trace   strings.Builder
}

func (d *dispatch) run(ctx context.Context, parent datanode.Node) (datanode.Node, error) {
	f := d.factory
	m := f.cfg.metrics
	t := reflect.TypeOf(d.obj)
	d.tracef("Making node from %s (%v)", describe(d.obj), t)

	for _, b := range d.state.builders {
		if err := ctx.Err(); err != nil {
			return nil, d.cancelled(err)
		}
		if !b.Suitable(t) {
			continue
		}
		d.tried = append(d.tried, b.String())
		m.attempts.Add(1)
		d.span.AddEvent("builder", trace.WithAttributes(attribute.String("builder", b.String())))

		node, err := f.attempt(ctx, b, d.obj, d.state.builders)
		if err != nil {
			if ctx.Err() != nil && errors.IsCancelled(err) {
				return nil, d.cancelled(ctx.Err())
			}
			if errors.IsNoSuchData(err) {
				m.declines.Add(1)
				d.tracef("    %s: declined: %v", b, err)
				continue
			}
			fault := &errors.FaultError{Builder: b.String(), Object: describe(d.obj), Cause: err}
			m.faults.Add(1)
			d.tracef("    %s: fault: %v", b, err)
			f.cfg.logger.Warn("Builder fault",
				zap.String("builder", b.String()),
				zap.String("object", fault.Object),
				zap.Error(err))
			if f.cfg.reporter != nil {
				f.cfg.reporter.ReportFault(ctx, fault)
			}
			if f.cfg.policy != FaultContinue {
				return nil, fault
			}
			d.faults = append(d.faults, fault)
			continue
		}

		nt := node.Type()
		if why := d.state.rejects(b, nt); why != "" {
			m.rejections.Add(1)
			d.tracef("    %s: made %s type %s", b, why, nt)
			continue
		}

		d.tracef("    %s: made %s %q", b, nt, node.Label())
		m.successes.Add(1)
		var text string
		if d.state.debug {
			text = d.trace.String()
		}
		f.configure(node, parent, d.obj, b, text)
		return node, nil
	}

	m.exhausted.Add(1)
	err := &DispatchExhaustedError{
		Object:     describe(d.obj),
		ObjectType: fmt.Sprintf("%T", d.obj),
		Tried:      d.tried,
		Faults:     d.faults,
	}
	if d.state.debug {
		err.Trace = d.trace.String()
	}
	return nil, err
}

func (d *dispatch) cancelled(err error) error {
	d.factory.cfg.metrics.cancelled.Add(1)
	return errors.Cancelled(err)
}

func (d *dispatch) tracef(format string, args ...any) {
	if !d.state.debug {
		return
	}
	fmt.Fprintf(&d.trace, format, args...)
	d.trace.WriteByte('\n')
}

// attempt runs one builder, bounding it by the build timeout and turning
// panics into faults. Routers are resolved against candidates, the
// dispatching factory's builder list.
func (f *Factory) attempt(ctx context.Context, b datanode.Builder, obj any, candidates []datanode.Builder) (node datanode.Node, err error) {
	if f.cfg.buildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.buildTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			node = nil
			err = fmt.Errorf("builder panicked: %v", r)
		}
	}()

	if r, ok := b.(Router); ok {
		var routes []Route
		if routes, err = r.Route(ctx, obj); err == nil {
			node, err = followRoutes(ctx, r, routes, candidates)
		}
	} else {
		node, err = b.Build(ctx, obj)
	}
	if err == nil && node == nil {
		err = fmt.Errorf("builder %s returned no node", b)
	}
	if err != nil && f.cfg.buildTimeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("builder timed out after %s: %v", f.cfg.buildTimeout, err)
	}
	return node, err
}

// ConfigureNode prepares a node made outside MakeNode as if the factory had
// made it: it attaches provenance, the child maker, the parent object and,
// for files and data sources, the label.
func (f *Factory) ConfigureNode(node datanode.Node, parent datanode.Node, obj any) {
	f.configure(node, parent, obj, nil, "")
}

func (f *Factory) configure(node datanode.Node, parent datanode.Node, obj any, b datanode.Builder, text string) {
	node.SetChildMaker(f.childFactory(node.Type()))
	if node.ParentObject() == nil {
		if po := parentObject(obj); po != nil {
			node.SetParentObject(po)
		}
	}
	switch v := obj.(type) {
	case datasource.File:
		node.SetLabel(v.Name())
	case datasource.DataSource:
		node.SetLabel(v.Name())
	}
	node.SetCreator(datanode.NewCreationState(f, b, parent, obj, text))
}

// parentObject returns something the parent of a node made from obj could
// be made from, or nil.
func parentObject(obj any) any {
	switch v := obj.(type) {
	case datasource.File:
		if p, ok := v.Parent(); ok {
			return p
		}
	case *datasource.FileSource:
		if p, ok := v.File().Parent(); ok {
			return p
		}
	case *etree.Element:
		if p := v.Parent(); p != nil && p.Tag != "" {
			return p
		}
	}
	return nil
}

// MakeChildNode is MakeNode, returning an error node instead of failing.
func (f *Factory) MakeChildNode(ctx context.Context, parent datanode.Node, obj any) datanode.Node {
	node, err := f.MakeNode(ctx, parent, obj)
	if err != nil {
		return f.MakeErrorNode(ctx, parent, err)
	}
	return node
}

// MakeErrorNode makes a node representing err. It never fails: if no
// builder will take the error, a plain error node is configured directly.
func (f *Factory) MakeErrorNode(ctx context.Context, parent datanode.Node, err error) datanode.Node {
	if err == nil {
		err = errors.New("unknown error")
	}
	node, merr := f.MakeNode(context.WithoutCancel(ctx), parent, err)
	if merr == nil {
		return node
	}
	f.cfg.logger.Debug("Error node made without dispatch", zap.Error(merr))
	en := nodes.NewErrorNode(err)
	f.ConfigureNode(en, parent, err)
	return en
}

// FillInAncestors makes nodes for the ancestors of a root node, following
// ParentObject upwards, and records each as the parent in the provenance of
// the node below it. It returns the ancestors nearest first and stops at the
// first object no node can be made from.
func (f *Factory) FillInAncestors(ctx context.Context, node datanode.Node) []datanode.Node {
	var chain []datanode.Node
	seen := make(map[string]bool)
	child := node
	for len(chain) < f.cfg.maxAncestors {
		obj := child.ParentObject()
		if obj == nil {
			break
		}
		key := fmt.Sprintf("%T:%v", obj, obj)
		if seen[key] {
			break
		}
		seen[key] = true

		p, err := f.MakeNode(ctx, nil, obj)
		if err != nil {
			f.cfg.logger.Debug("Ancestor search stopped", zap.String("object", describe(obj)), zap.Error(err))
			break
		}
		if c := child.Creator(); c != nil && c.IsRoot() {
			child.SetCreator(c.WithParent(p))
		}
		chain = append(chain, p)
		child = p
	}
	return chain
}

// Alternates re-runs every suitable builder on the object node was made
// from and returns the nodes of other types that could represent it, one per
// type, in builder order. Builder failures are skipped, and results are
// filtered by the shunned and deprecated rules MakeNode applies.
func (f *Factory) Alternates(ctx context.Context, node datanode.Node) ([]datanode.Node, error) {
	c := node.Creator()
	if c == nil {
		return nil, nil
	}
	maker := f
	if cf, ok := c.Factory().(*Factory); ok && cf != nil {
		maker = cf
	}
	st := maker.snapshot()
	obj := c.Object()
	t := reflect.TypeOf(obj)
	seen := map[datanode.NodeType]bool{node.Type(): true}

	var out []datanode.Node
	for _, b := range st.builders {
		if err := ctx.Err(); err != nil {
			return nil, errors.Cancelled(err)
		}
		if !b.Suitable(t) {
			continue
		}
		alt, err := maker.attempt(ctx, b, obj, st.builders)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Cancelled(ctx.Err())
			}
			continue
		}
		nt := alt.Type()
		if seen[nt] || st.rejects(b, nt) != "" {
			continue
		}
		seen[nt] = true
		maker.configure(alt, c.Parent(), obj, b, "")
		out = append(out, alt)
	}
	return out, nil
}

// describe gives a short description of a candidate object.
func describe(obj any) string {
	var s string
	switch v := obj.(type) {
	case nil:
		return "nil"
	case fmt.Stringer:
		s = v.String()
	case error:
		s = v.Error()
	case string:
		s = fmt.Sprintf("%q", v)
	default:
		s = fmt.Sprintf("%T", v)
	}
	if r := []rune(s); len(r) > 80 {
		s = string(r[:80]) + "..."
	}
	return s
}
