// Package msgcat holds the user-facing strings. Defaults are embedded; an
// override directory may replace individual keys.
package msgcat

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.ko.yaml
var defaultFiles embed.FS

// Catalog maps dot keys ("match.recorded") to parsed templates. Rendering with
// a missing field is an error.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]*template.Template)}

	raw, err := fs.ReadFile(defaultFiles, "messages.ko.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	flat, err := parseYAMLToFlat(raw)
	if err != nil {
		return nil, fmt.Errorf("parse embedded messages: %w", err)
	}
	if err := c.apply(flat); err != nil {
		return nil, err
	}

	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// applyDir loads *.yaml / *.yml in name order. A key defined by two override
// files is rejected.
func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read override dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	seen := make(map[string]string)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		flat, err := parseYAMLToFlat(b)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range flat {
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			seen[k] = name
		}
		if err := c.apply(flat); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// apply parses every template before installing any of them.
func (c *Catalog) apply(flat map[string]string) error {
	parsed := make(map[string]*template.Template, len(flat))
	for k, text := range flat {
		t, err := template.New(k).Option("missingkey=error").Parse(text)
		if err != nil {
			return fmt.Errorf("template %s: %w", k, err)
		}
		parsed[k] = t
	}
	c.mu.Lock()
	for k, t := range parsed {
		c.templates[k] = t
	}
	c.mu.Unlock()
	return nil
}

func parseYAMLToFlat(b []byte) (map[string]string, error) {
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	flat := make(map[string]string)
	if err := flatten(m, "", flat); err != nil {
		return nil, err
	}
	return flat, nil
}

func flatten(src any, prefix string, out map[string]string) error {
	switch v := src.(type) {
	case map[string]any:
		for k, vv := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := flatten(vv, key, out); err != nil {
				return err
			}
		}
		return nil
	case string:
		if prefix == "" {
			return fmt.Errorf("string value without key")
		}
		out[prefix] = v
		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
}

func (c *Catalog) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.templates[key]
	return ok
}

// Render executes the template under key with data.
func (c *Catalog) Render(key string, data any) (string, error) {
	c.mu.RLock()
	t, ok := c.templates[strings.TrimSpace(key)]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template not found: %s", key)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", key, err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
