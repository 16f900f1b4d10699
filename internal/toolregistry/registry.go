// Package toolregistry implements the Tool Registry (C8): fault-tolerant
// filesystem discovery of tool units beneath a category-partitioned root,
// with optional hot-reload.
package toolregistry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kestrelai/router/internal/tools"
)

// categoryDirs is the fixed set of category subdirectories a registry root
// is expected to contain, one per tools.Category.
var categoryDirs = map[string]tools.Category{
	"utility_tools":     tools.CategoryUtility,
	"data_tools":        tools.CategoryData,
	"web_tools":         tools.CategoryWeb,
	"audio_tools":       tools.CategorySystem,
	"dev_tools":         tools.CategoryDevelopment,
	"automation_tools":  tools.CategoryAutomation,
	"knowledge_tools":   tools.CategoryKnowledge,
}

// unitManifest is the on-disk descriptor for one discoverable unit: a YAML
// file naming the unit and the compiled-in factory that builds its tool.
type unitManifest struct {
	Unit string `yaml:"unit"`
}

// Factory builds a tool instance for a named unit. Factories are registered
// ahead of time (compiled in), since Go has no dynamic class loading; the
// filesystem layout still drives which of the compiled-in factories are
// actually instantiated and under what category.
type Factory func() tools.Tool

// FailedUnit records one discovery failure without aborting the scan.
type FailedUnit struct {
	UnitPath     string
	ErrorMessage string
	ErrorKind    string
}

// ManifestSummary is the public, read-only view of a registered tool used
// by listing operations.
type ManifestSummary struct {
	Name     string
	Category tools.Category
	Trust    tools.TrustLevel
}

// LoadReport summarizes one Load() pass.
type LoadReport struct {
	LoadedCount int
	Failed      []FailedUnit
}

// Registry holds the discovered tool instances, keyed by manifest name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tools.Tool
	cats  map[string]tools.Category

	factories map[string]Factory

	root    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New builds an empty registry with the given compiled-in factories, keyed
// by unit name as it will appear in a unit manifest file's `unit:` field.
func New(factories map[string]Factory) *Registry {
	f := make(map[string]Factory, len(factories))
	for k, v := range factories {
		f[k] = v
	}
	return &Registry{
		tools:     make(map[string]tools.Tool),
		cats:      make(map[string]tools.Category),
		factories: f,
	}
}

// Load walks root once, one subdirectory per category in categoryDirs,
// loading every *.yaml unit manifest found and instantiating its factory.
// Per-unit failures (missing factory, duplicate name, bad manifest) are
// recorded in the returned report rather than aborting the scan.
func (r *Registry) Load(root string) LoadReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = root

	report := LoadReport{}
	entries, err := os.ReadDir(root)
	if err != nil {
		report.Failed = append(report.Failed, FailedUnit{
			UnitPath:     root,
			ErrorMessage: err.Error(),
			ErrorKind:    "internal",
		})
		return report
	}

	var dirNames []string
	for _, e := range entries {
		if e.IsDir() {
			dirNames = append(dirNames, e.Name())
		}
	}
	sort.Strings(dirNames)

	for _, dirName := range dirNames {
		category, known := categoryDirs[dirName]
		if !known {
			continue
		}
		catPath := filepath.Join(root, dirName)
		units, err := os.ReadDir(catPath)
		if err != nil {
			report.Failed = append(report.Failed, FailedUnit{
				UnitPath:     catPath,
				ErrorMessage: err.Error(),
				ErrorKind:    "internal",
			})
			continue
		}
		var unitNames []string
		for _, u := range units {
			if !u.IsDir() && strings.HasSuffix(u.Name(), ".yaml") {
				unitNames = append(unitNames, u.Name())
			}
		}
		sort.Strings(unitNames)

		for _, unitName := range unitNames {
			unitPath := filepath.Join(catPath, unitName)
			if err := r.loadUnit(unitPath, category); err != nil {
				report.Failed = append(report.Failed, FailedUnit{
					UnitPath:     unitPath,
					ErrorMessage: err.Error(),
					ErrorKind:    "registry_discovery",
				})
				continue
			}
			report.LoadedCount++
		}
	}
	return report
}

func (r *Registry) loadUnit(unitPath string, category tools.Category) error {
	raw, err := os.ReadFile(unitPath)
	if err != nil {
		return fmt.Errorf("read unit manifest: %w", err)
	}
	var m unitManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parse unit manifest: %w", err)
	}
	if strings.TrimSpace(m.Unit) == "" {
		return fmt.Errorf("unit manifest missing unit name")
	}
	factory, ok := r.factories[m.Unit]
	if !ok {
		return fmt.Errorf("no compiled-in factory registered for unit %q", m.Unit)
	}
	tool := factory()
	name := tool.Manifest().Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("duplicate tool name %q (unit %s rejected)", name, m.Unit)
	}
	r.tools[name] = tool
	r.cats[name] = category
	return nil
}

// Register adds an already-constructed tool directly, bypassing filesystem
// discovery. Used by tests; cmd/routerd populates the registry through
// Load/Watch only.
func (r *Registry) Register(tool tools.Tool, category tools.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Manifest().Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("duplicate tool name %q", name)
	}
	r.tools[name] = tool
	r.cats[name] = category
	return nil
}

// Get returns a tool by manifest name.
func (r *Registry) Get(name string) (tools.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ListAll returns a summary of every registered tool, sorted by name.
func (r *Registry) ListAll() []ManifestSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ManifestSummary, 0, len(r.tools))
	for name, t := range r.tools {
		m := t.Manifest()
		out = append(out, ManifestSummary{Name: name, Category: r.cats[name], Trust: m.TrustLevel})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListByCategory returns every tool registered under the given category.
func (r *Registry) ListByCategory(cat tools.Category) []tools.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []tools.Tool
	for name, t := range r.tools {
		if r.cats[name] == cat {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest().Name < out[j].Manifest().Name })
	return out
}

// Watch re-runs Load(root) whenever a unit manifest under root changes,
// replacing the registered tool set wholesale. onReport is called with
// every reload's report, including the first one performed synchronously
// before Watch returns.
func (r *Registry) Watch(root string, onReport func(LoadReport)) error {
	report := r.Load(root)
	if onReport != nil {
		onReport(report)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create tool registry watcher: %w", err)
	}
	for dirName := range categoryDirs {
		_ = watcher.Add(filepath.Join(root, dirName))
	}

	r.mu.Lock()
	r.watcher = watcher
	r.done = make(chan struct{})
	r.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				r.mu.Lock()
				r.tools = make(map[string]tools.Tool)
				r.cats = make(map[string]tools.Category)
				r.mu.Unlock()
				rep := r.Load(root)
				if onReport != nil {
					onReport(rep)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher goroutine started by Watch, if any.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	err := r.watcher.Close()
	r.watcher = nil
	return err
}
