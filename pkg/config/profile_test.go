package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/datasource"
	"github.com/wehubfusion/treeview/pkg/errors"
	"github.com/wehubfusion/treeview/pkg/factory"
)

const sniffer = `function sniff(name, magic) { return name.endsWith(".raw") ? "stream" : null; }`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	assert.Equal(t, string(factory.FaultStop), p.FaultPolicy)
	assert.Equal(t, 1, p.Depth)
	assert.Equal(t, FormatText, p.Format)
	assert.Equal(t, factory.DefaultMaxZipBuffer, p.MaxZipBuffer)
	assert.Equal(t, factory.DefaultCapabilities(), p.Capabilities())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "raw.js", sniffer)
	path := writeFile(t, dir, "profile.yaml", `
prefer: [votabletable]
shun: [ndx]
fault_policy: continue
build_timeout: 2s
disable: [ast]
depth: 3
format: json
scripts:
  - name: raw
    path: raw.js
    timeout: 100ms
`)

	p, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, p.Validate())
	assert.Equal(t, []string{"votabletable"}, p.Prefer)
	assert.Equal(t, []string{"ndx"}, p.Shun)
	assert.Equal(t, "continue", p.FaultPolicy)
	assert.Equal(t, 3, p.Depth)
	assert.Equal(t, FormatJSON, p.Format)
	assert.Equal(t, "info", p.LogLevel)
	assert.Equal(t, filepath.Join(dir, "raw.js"), p.Scripts[0].Path)
	assert.False(t, p.Capabilities().AST)
	assert.True(t, p.Capabilities().HDS)
}

func TestLoadHCL(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profile.hcl", `
prefer       = ["votabletable"]
deprecate    = ["xml"]
fault_policy = "stop"
workers      = 8

script "inline" {
  source  = "function sniff(name, magic) { return null; }"
  timeout = "50ms"
}
`)

	p, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, p.Validate())
	assert.Equal(t, []string{"votabletable"}, p.Prefer)
	assert.Equal(t, []string{"xml"}, p.Deprecate)
	assert.Equal(t, 8, p.Workers)
	assert.Equal(t, 1, p.Depth)
	require.Len(t, p.Scripts, 1)
	assert.Equal(t, "inline", p.Scripts[0].Name)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown extension", "profile.toml", "depth = 1"},
		{"unknown yaml field", "bad.yaml", "colour: blue\n"},
		{"bad hcl", "bad.hcl", "prefer = [\n"},
		{"unknown hcl attribute", "extra.hcl", "colour = \"blue\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, dir, tt.file, tt.body))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestEmptyYAMLIsDefault(t *testing.T) {
	p, err := Load(writeFile(t, t.TempDir(), "empty.yml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	p := Default().
		WithPrefer("hologram").
		WithShun("fits").
		WithFaultPolicy("sometimes").
		WithFormat("xml").
		WithDepth(-1)
	p.Scripts = []Script{{Name: "a"}, {Name: "a", Path: "x.js", Source: "y"}}

	err := p.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	msg := err.Error()
	for _, want := range []string{
		`prefer: unknown node type "hologram"`,
		`unknown fault policy "sometimes"`,
		`format: unknown output format "xml"`,
		"depth cannot be negative",
		"script a: exactly one of path and source must be set",
		"script a: defined twice",
	} {
		assert.Contains(t, msg, want)
	}
	assert.NotContains(t, msg, `"fits"`)
}

func TestWithHelpersDoNotAlias(t *testing.T) {
	base := Default().WithPrefer("fits")
	a := base.WithPrefer("votable")
	b := base.WithPrefer("xml", "fits")

	assert.Equal(t, []string{"fits"}, base.Prefer)
	assert.Equal(t, []string{"fits", "votable"}, a.Prefer)
	assert.Equal(t, []string{"fits", "xml"}, b.Prefer)
}

func TestApply(t *testing.T) {
	f := factory.New()
	p := Default().WithPrefer("votabletable").WithShun("ndx")
	require.NoError(t, p.Apply(f))

	assert.Equal(t, "votabletable(*etree.Element)", f.Builders()[0].String())
	assert.Contains(t, f.Shunned(), datanode.TypeNDX)

	err := Default().WithPrefer("hologram").WithDeprecate("nothing").Apply(factory.New())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "hologram")
	assert.Contains(t, err.Error(), "nothing")
}

func TestFactoryOptions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "image.raw", "SIMPLE  =                    T")
	p := Default().WithFaultPolicy(factory.FaultContinue)
	p.Scripts = []Script{{Name: "raw", Source: sniffer}}
	p.BuildTimeout = "1s"
	require.NoError(t, p.Validate())

	opts, err := p.FactoryOptions()
	require.NoError(t, err)
	f := factory.New(opts...)
	assert.Equal(t, "script:raw", f.Builders()[0].String())

	node, err := f.MakeNode(context.Background(), nil, datasource.NewFile(filepath.Join(dir, "image.raw")))
	require.NoError(t, err)
	assert.Equal(t, datanode.TypeStream, node.Type())

	p.Scripts = []Script{{Name: "missing", Path: filepath.Join(dir, "nope.js")}}
	_, err = p.FactoryOptions()
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"fits", "votable"}, SplitList(" fits, ,votable,"))
	assert.Nil(t, SplitList(""))
}
