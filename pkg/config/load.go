package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"github.com/wehubfusion/treeview/pkg/errors"
)

// Load reads a profile from path. Files ending in .hcl are read as HCL and
// files ending in .yaml or .yml as YAML. Unset fields take their defaults and
// relative script paths are resolved against the directory of the file.
func Load(path string) (Profile, error) {
	var p Profile
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		p, err = decodeHCL(path)
	case ".yaml", ".yml":
		p, err = decodeYAML(path)
	default:
		return Profile{}, fmt.Errorf("%w: %s: unsupported profile format (want .hcl, .yaml or .yml)", errors.ErrInvalidConfig, path)
	}
	if err != nil {
		return Profile{}, err
	}

	dir := filepath.Dir(path)
	for i, s := range p.Scripts {
		if s.Path != "" && !filepath.IsAbs(s.Path) {
			p.Scripts[i].Path = filepath.Join(dir, s.Path)
		}
	}
	p.fillDefaults()
	return p, nil
}

func decodeYAML(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Profile{}, fmt.Errorf("%w: failed to decode profile %s: %w", errors.ErrInvalidConfig, path, err)
	}
	return p, nil
}

func decodeHCL(path string) (Profile, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Profile{}, fmt.Errorf("%w: failed to parse profile %s: %w", errors.ErrInvalidConfig, path, diags)
	}
	var p Profile
	if diags := gohcl.DecodeBody(file.Body, nil, &p); diags.HasErrors() {
		return Profile{}, fmt.Errorf("%w: failed to decode profile %s: %w", errors.ErrInvalidConfig, path, diags)
	}
	return p, nil
}
