package factory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/datasource"
	"github.com/wehubfusion/treeview/pkg/errors"
)

const rawSniffer = `
function sniff(name, magic) {
  if (name.endsWith(".raw")) {
    return "stream";
  }
  return null;
}
`

func mustScript(t *testing.T, source string, timeout time.Duration) *ScriptBuilder {
	t.Helper()
	sb, err := NewScriptBuilder("test.js", source, timeout)
	require.NoError(t, err)
	return sb
}

func TestScriptOverridesSniffing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.raw")
	require.NoError(t, os.WriteFile(path, sampleFITS(), 0o644))
	ctx := context.Background()

	node, err := New().MakeNode(ctx, nil, datasource.NewFile(path))
	require.NoError(t, err)
	assert.Equal(t, datanode.TypeFITS, node.Type())

	f := New(WithScripts(mustScript(t, rawSniffer, 0)))
	node, err = f.MakeNode(ctx, nil, datasource.NewFile(path))
	require.NoError(t, err)
	assert.Equal(t, datanode.TypeStream, node.Type())
	assert.Equal(t, "image.raw", node.Label())
	assert.Equal(t, "script:test.js", node.Creator().Builder().String())

	node, err = f.MakeNode(ctx, nil, datasource.NewFile(filepath.Join(dir)))
	require.NoError(t, err)
	assert.Equal(t, datanode.TypeDirectory, node.Type())
}

func TestScriptSeesMagic(t *testing.T) {
	sb := mustScript(t, `
function sniff(name, magic) {
  return magic.length > 1 && magic[0] === 83 && magic[1] === 73 ? "fits" : null;
}`, 0)
	node, err := New(WithScripts(sb)).MakeNode(context.Background(), nil, datasource.NewBytesSource("x.dat", sampleFITS()))
	require.NoError(t, err)
	assert.Equal(t, datanode.TypeFITS, node.Type())
	assert.Equal(t, "script:test.js", node.Creator().Builder().String())
}

func TestScriptDeclineFallsThrough(t *testing.T) {
	sb := mustScript(t, `
function sniff(name, magic) {
  return typeof require === "undefined" && typeof fetch === "undefined" ? null : "stream";
}`, 0)
	src := datasource.NewBytesSource("cat.xml", []byte(sampleVOTable))
	node, err := New(WithScripts(sb)).MakeNode(context.Background(), nil, src)
	require.NoError(t, err)
	assert.Equal(t, datanode.TypeVOTable, node.Type())
	assert.Equal(t, "special:source", node.Creator().Builder().String())
}

func TestScriptShunnedTypeIsSkipped(t *testing.T) {
	sb := mustScript(t, `function sniff(name, magic) { return "fits"; }`, 0)
	f := New(WithScripts(sb))
	f.Shun(datanode.TypeFITS)

	node, err := f.MakeNode(context.Background(), nil, datasource.NewBytesSource("x.fits", sampleFITS()))
	require.NoError(t, err)
	assert.Equal(t, datanode.TypeStream, node.Type())
}

func TestScriptFaults(t *testing.T) {
	src := datasource.NewBytesSource("x.dat", []byte("data"))

	tests := []struct {
		name    string
		source  string
		message string
	}{
		{"infinite loop", `function sniff(name, magic) { for (;;) {} }`, "timed out"},
		{"unknown type", `function sniff(name, magic) { return "hologram"; }`, "unknown node type"},
		{"eval", `function sniff(name, magic) { return eval("'fits'"); }`, "eval"},
		{"throws", `function sniff(name, magic) { throw new Error("bad magic"); }`, "bad magic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := mustScript(t, tt.source, 20*time.Millisecond)
			_, err := New(WithScripts(sb)).MakeNode(context.Background(), nil, src)
			require.Error(t, err)
			assert.True(t, errors.IsFault(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestScriptTimeoutDoesNotLeak(t *testing.T) {
	sb := mustScript(t, `
function sniff(name, magic) {
  if (name === "slow") { for (;;) {} }
  var n = 0;
  for (var i = 0; i < 200; i++) { n += i; }
  return "fits";
}`, 0)
	ctx := context.Background()

	_, err := sb.engine.call(ctx, 5*time.Millisecond, "slow", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	for i := 0; i < 200; i++ {
		// Deadlines close to the call time let the timer fire as the call returns.
		_, _ = sb.engine.call(ctx, time.Duration(i%20)*time.Microsecond, "m31.fits", nil)
		name, err := sb.engine.call(ctx, time.Second, "m31.fits", nil)
		require.NoError(t, err, "call %d", i)
		require.Equal(t, "fits", name)
	}
}

func TestScriptFaultContinue(t *testing.T) {
	sb := mustScript(t, `function sniff(name, magic) { return "hologram"; }`, 0)
	f := New(WithScripts(sb), WithFaultPolicy(FaultContinue))

	node, err := f.MakeNode(context.Background(), nil, datasource.NewBytesSource("x.fits", sampleFITS()))
	require.NoError(t, err)
	assert.Equal(t, datanode.TypeFITS, node.Type())
	assert.Equal(t, int64(1), f.Metrics().Snapshot().Faults)
}

func TestNewScriptBuilderErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		source string
	}{
		{"empty name", "", rawSniffer},
		{"syntax error", "bad.js", "function sniff( {"},
		{"no sniff", "none.js", "var x = 1;"},
		{"sniff not a function", "value.js", "var sniff = 3;"},
		{"load loops", "loop.js", "for (;;) {}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScriptBuilder(tt.script, tt.source, 20*time.Millisecond)
			assert.Error(t, err)
		})
	}
}

func TestScriptRuntimeIsSandboxed(t *testing.T) {
	sb := mustScript(t, `
function sniff(name, magic) {
  try {
    Object.prototype.polluted = true;
  } catch (e) {}
  return ({}).polluted === true ? "stream" : null;
}`, 0)
	src := datasource.NewBytesSource("x.fits", sampleFITS())
	node, err := New(WithScripts(sb)).MakeNode(context.Background(), nil, src)
	require.NoError(t, err)
	assert.Equal(t, datanode.TypeFITS, node.Type())
}
