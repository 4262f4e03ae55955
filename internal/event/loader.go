package event

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrNotFound is returned when an event or rig definition does not exist.
var ErrNotFound = errors.New("not found")

// Loader reads event definitions from TOML files under a root directory.
// An event path like "pycon/2025/main" maps to <root>/pycon/2025/main.toml,
// with the [event] tables of every ancestor file (<root>/pycon.toml,
// <root>/pycon/2025.toml) deep-merged beneath it, so shared settings live
// once per conference and per edition.
type Loader struct {
	root string
}

func NewLoader(root string) *Loader {
	return &Loader{root: root}
}

// Load reads and merges the event definition for the given path.
func (l *Loader) Load(path string) (*Event, error) {
	clean, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any)
	parts := strings.Split(clean, "/")
	for i := 1; i < len(parts); i++ {
		table, err := l.readEventTable(strings.Join(parts[:i], "/"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		deepMerge(merged, table)
	}

	leaf, err := l.readEventTable(clean)
	if err != nil {
		return nil, err
	}
	deepMerge(merged, leaf)

	return eventFromTable(clean, merged)
}

func (l *Loader) readEventTable(path string) (map[string]any, error) {
	var doc map[string]any
	file := filepath.Join(l.root, filepath.FromSlash(path)+".toml")
	if _, err := toml.DecodeFile(file, &doc); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("event %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("event %s: %w", path, err)
	}
	table, ok := doc["event"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("event %s: missing [event] table", path)
	}
	return table, nil
}

// deepMerge overlays src onto dst, recursing into nested tables. Lists and
// scalars are replaced wholesale.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if srcTable, ok := v.(map[string]any); ok {
			if dstTable, ok := dst[k].(map[string]any); ok {
				deepMerge(dstTable, srcTable)
				continue
			}
		}
		dst[k] = v
	}
}

func cleanPath(path string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(path))
	if clean == "." || clean == "/" || strings.HasPrefix(clean, "..") || strings.HasPrefix(clean, "/") {
		return "", fmt.Errorf("invalid event path %q", path)
	}
	return clean, nil
}

// Rig binds a stable public slug to an event instance and its control secret.
type Rig struct {
	Slug            string `toml:"-"`
	ControlPassword string `toml:"control_password"`
	EventPath       string `toml:"event_path"`
}

// RigLoader reads rig definitions from <root>/<slug>.toml.
type RigLoader struct {
	root string
}

func NewRigLoader(root string) *RigLoader {
	return &RigLoader{root: root}
}

// Load reads the rig definition for the given slug.
func (l *RigLoader) Load(slug string) (*Rig, error) {
	if slug == "" || strings.ContainsAny(slug, "/\\.") {
		return nil, fmt.Errorf("rig %q: %w", slug, ErrNotFound)
	}

	var doc struct {
		Rig Rig `toml:"rig"`
	}
	file := filepath.Join(l.root, slug+".toml")
	if _, err := toml.DecodeFile(file, &doc); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("rig %q: %w", slug, ErrNotFound)
		}
		return nil, fmt.Errorf("rig %q: %w", slug, err)
	}

	rig := doc.Rig
	rig.Slug = slug
	if rig.EventPath == "" {
		return nil, fmt.Errorf("rig %q: event_path is required", slug)
	}
	return &rig, nil
}
