// Package reports loads the catalog of report categories a token can
// be granted, and the query templates behind each report.
package reports

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Report is one predefined query.
type Report struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Query string `yaml:"query" json:"-"`
}

// Category groups reports. Access tokens are scoped to categories.
type Category struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Reports     []Report `yaml:"reports" json:"reports"`
}

type catalogFile struct {
	Categories []Category `yaml:"categories"`
}

// QueryTarget is the data a report template renders against.
type QueryTarget struct {
	Project string
	Dataset string
}

// Table is the GA4 export wildcard table for the target.
func (q QueryTarget) Table() string {
	return fmt.Sprintf("`%s.%s.events_*`", q.Project, q.Dataset)
}

// Catalog is the live set of categories. It is safe for concurrent
// use and can be reloaded from its file.
type Catalog struct {
	mu         sync.RWMutex
	categories []Category
	path       string
	logger     *slog.Logger
}

// Builtin returns the catalog compiled into the binary.
func Builtin(logger *slog.Logger) *Catalog {
	cats, err := parse([]byte(builtinCatalog))
	if err != nil {
		panic("builtin report catalog: " + err.Error())
	}

	return &Catalog{categories: cats, logger: logger}
}

// Load reads the catalog at path. An empty path yields the builtin
// catalog.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	if path == "" {
		return Builtin(logger), nil
	}

	c := &Catalog{path: path, logger: logger}
	if err := c.Reload(); err != nil {
		return nil, err
	}

	return c, nil
}

// Path returns the backing file, or "" for the builtin catalog.
func (c *Catalog) Path() string {
	return c.path
}

// Reload re-reads the backing file. On error the current categories
// are kept.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("reading report catalog: %w", err)
	}

	cats, err := parse(data)
	if err != nil {
		return fmt.Errorf("parsing report catalog %s: %w", c.path, err)
	}

	c.mu.Lock()
	c.categories = cats
	c.mu.Unlock()

	c.logger.Info("report catalog loaded", slog.String("path", c.path), slog.Int("categories", len(cats)))

	return nil
}

// Categories returns the category ids in catalog order.
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, len(c.categories))
	for i, cat := range c.categories {
		ids[i] = cat.ID
	}

	return ids
}

// List returns a copy of every category.
func (c *Catalog) List() []Category {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Category, len(c.categories))
	for i, cat := range c.categories {
		cat.Reports = slices.Clone(cat.Reports)
		out[i] = cat
	}

	return out
}

// Report finds a report within a category.
func (c *Catalog) Report(categoryID, reportID string) (Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, cat := range c.categories {
		if cat.ID != categoryID {
			continue
		}

		for _, r := range cat.Reports {
			if r.ID == reportID {
				return r, true
			}
		}
	}

	return Report{}, false
}

// Render expands the report's query template for the target.
func (r Report) Render(target QueryTarget) (string, error) {
	tmpl, err := template.New(r.ID).Option("missingkey=error").Parse(r.Query)
	if err != nil {
		return "", fmt.Errorf("parsing query for report %s: %w", r.ID, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, target); err != nil {
		return "", fmt.Errorf("rendering query for report %s: %w", r.ID, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

func parse(data []byte) ([]Category, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("catalog has no categories")
	}

	seen := make(map[string]bool, len(f.Categories))

	for i, cat := range f.Categories {
		if cat.ID == "" {
			return nil, fmt.Errorf("category %d has no id", i)
		}

		if seen[cat.ID] {
			return nil, fmt.Errorf("duplicate category %q", cat.ID)
		}

		seen[cat.ID] = true

		if cat.Name == "" {
			f.Categories[i].Name = cat.ID
		}

		for j, r := range cat.Reports {
			if r.ID == "" || strings.TrimSpace(r.Query) == "" {
				return nil, fmt.Errorf("category %q report %d needs an id and a query", cat.ID, j)
			}

			if _, err := template.New(r.ID).Parse(r.Query); err != nil {
				return nil, fmt.Errorf("category %q report %q: %w", cat.ID, r.ID, err)
			}
		}
	}

	return f.Categories, nil
}
