// Package templates discovers overlay templates, plans where they go on the
// timeline and rewrites raw placements into a valid, non-overlapping sequence.
package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/forPelevin/reelplan/internal/types"
)

const (
	manifestTOML    = "template.toml"
	manifestJSON    = "template.json"
	sourceBuiltin   = "builtin"
	defaultCategory = "general"
)

// Builtin is the catalog used when nothing is discoverable.
func Builtin() []types.TemplateDescriptor {
	return []types.TemplateDescriptor{
		{ID: "callout-card", Name: "Callout Card", Category: "callout", Source: sourceBuiltin},
		{ID: "kinetic-title", Name: "Kinetic Title", Category: "title", Source: sourceBuiltin},
		{ID: "lower-third", Name: "Lower Third", Category: "identity", Source: sourceBuiltin},
		{ID: "stat-highlight", Name: "Stat Highlight", Category: "stat", Source: sourceBuiltin},
	}
}

type manifest struct {
	ID       string `toml:"id" json:"id"`
	Name     string `toml:"name" json:"name"`
	Category string `toml:"category" json:"category"`
}

// Discover reads <dir>/*/template.toml (or template.json) registrations.
// Unreadable or invalid manifests are skipped and reported in the returned
// error; the catalog is still usable. An empty dir yields the built-ins.
func Discover(dir string) ([]types.TemplateDescriptor, error) {
	if strings.TrimSpace(dir) == "" {
		return Builtin(), nil
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Builtin(), nil
	}
	return DiscoverFS(os.DirFS(dir))
}

func DiscoverFS(fsys fs.FS) ([]types.TemplateDescriptor, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return Builtin(), fmt.Errorf("read templates dir: %w", err)
	}

	var (
		errs []error
		byID = map[string]types.TemplateDescriptor{}
	)
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		d, ok, err := readManifest(fsys, e.Name())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		if _, dup := byID[d.ID]; dup {
			continue
		}
		byID[d.ID] = d
	}

	if len(byID) == 0 {
		return Builtin(), errors.Join(errs...)
	}
	out := make([]types.TemplateDescriptor, 0, len(byID))
	for _, d := range byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, errors.Join(errs...)
}

func readManifest(fsys fs.FS, dir string) (types.TemplateDescriptor, bool, error) {
	var (
		m    manifest
		file string
	)
	if b, err := fs.ReadFile(fsys, path.Join(dir, manifestTOML)); err == nil {
		file = path.Join(dir, manifestTOML)
		if err := toml.Unmarshal(b, &m); err != nil {
			return types.TemplateDescriptor{}, false, fmt.Errorf("parse %s: %w", file, err)
		}
	} else if b, err := fs.ReadFile(fsys, path.Join(dir, manifestJSON)); err == nil {
		file = path.Join(dir, manifestJSON)
		if err := json.Unmarshal(b, &m); err != nil {
			return types.TemplateDescriptor{}, false, fmt.Errorf("parse %s: %w", file, err)
		}
	} else {
		return types.TemplateDescriptor{}, false, nil
	}

	d := types.TemplateDescriptor{
		ID:       strings.TrimSpace(m.ID),
		Name:     strings.TrimSpace(m.Name),
		Category: strings.TrimSpace(m.Category),
		Source:   file,
	}
	if d.ID == "" {
		d.ID = dir
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.Category == "" {
		d.Category = defaultCategory
	}
	return d, true, nil
}
