package walk

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Render writes snap to w as "text", "json" or "yaml".
func Render(w io.Writer, snap *Snapshot, format string) error {
	switch format {
	case "", "text":
		return RenderText(w, snap)
	case "json":
		return RenderJSON(w, snap)
	case "yaml":
		return RenderYAML(w, snap)
	}
	return fmt.Errorf("unknown output format %q", format)
}

// RenderText writes one line per entry, indented by depth:
//
//	label  [type]  description
func RenderText(w io.Writer, snap *Snapshot) error {
	bw := bufio.NewWriter(w)
	err := snap.Visit(func(e *Entry) error {
		marker := " "
		if e.Expandable {
			marker = "+"
			if len(e.Children) > 0 {
				marker = "-"
			}
		}
		line := fmt.Sprintf("%s%s %s  [%s]", strings.Repeat("    ", e.Depth), marker, e.Label, e.Type)
		if e.Description != "" {
			line += "  " + e.Description
		}
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return err
		}
		for _, d := range e.Details {
			if _, err := fmt.Fprintf(bw, "%s    %s: %s\n", strings.Repeat("    ", e.Depth), d.Key, d.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

// RenderJSON writes snap as indented JSON.
func RenderJSON(w io.Writer, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// RenderYAML writes snap as YAML.
func RenderYAML(w io.Writer, snap *Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return enc.Close()
}
