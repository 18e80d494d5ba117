package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Template asset placeholders a shipped configuration may carry. Only
// these are pre-filled; any other $-token is left for the YAML parser
// to reject or ignore.
var templateAssets = map[string]string{
	"XDS_INP_template":        "XDS.INP",
	"XDS_INP_wedges_template": "XDS_WEDGES.INP",
	"geometry_for_processing": "pilatus6M.geom",
}

// Prefill resolves template-asset placeholders in a configuration
// document against the shipped templates directory. Documents without
// placeholders pass through untouched.
func Prefill(text, templatesDir string) (string, error) {
	if !strings.Contains(text, "$") {
		return text, nil
	}
	if templatesDir == "" {
		return "", fmt.Errorf("configuration carries template placeholders but no templates directory is set")
	}
	abs, err := filepath.Abs(templatesDir)
	if err != nil {
		return "", fmt.Errorf("resolve templates directory: %w", err)
	}
	pairs := make([]string, 0, len(templateAssets)*2)
	for placeholder, asset := range templateAssets {
		pairs = append(pairs, "$"+placeholder, filepath.Join(abs, asset))
	}
	return strings.NewReplacer(pairs...).Replace(text), nil
}
