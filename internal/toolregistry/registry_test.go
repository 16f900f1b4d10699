package toolregistry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelai/router/internal/tools"
)

type fakeTool struct {
	name string
}

func (f fakeTool) Manifest() tools.ToolManifest {
	return tools.ToolManifest{Name: f.name, Category: tools.CategoryUtility, TrustLevel: tools.TrustCore}
}

func (f fakeTool) Execute(ctx context.Context, params map[string]any) (tools.Result, error) {
	return tools.Result{Success: true}, nil
}

func writeUnit(t *testing.T, dir, fileName, unitName string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	content := "unit: " + unitName + "\n"
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write unit: %v", err)
	}
}

func TestLoadDiscoversUnitsAcrossCategories(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, filepath.Join(root, "utility_tools"), "qr.yaml", "qr_generate")
	writeUnit(t, filepath.Join(root, "web_tools"), "fetch.yaml", "web_fetch")

	reg := New(map[string]Factory{
		"qr_generate": func() tools.Tool { return fakeTool{name: "qr_generate"} },
		"web_fetch":   func() tools.Tool { return fakeTool{name: "web_fetch"} },
	})
	report := reg.Load(root)

	if report.LoadedCount != 2 {
		t.Fatalf("expected 2 loaded, got %d (failed=%+v)", report.LoadedCount, report.Failed)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("expected no failures, got %+v", report.Failed)
	}

	if _, ok := reg.Get("qr_generate"); !ok {
		t.Fatal("expected qr_generate to be registered")
	}
	if tl := reg.ListByCategory(tools.CategoryWeb); len(tl) != 1 || tl[0].Manifest().Name != "web_fetch" {
		t.Fatalf("expected web_fetch under CategoryWeb, got %+v", tl)
	}
}

func TestLoadContinuesPastPerUnitFailures(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, filepath.Join(root, "utility_tools"), "ok.yaml", "known_unit")
	writeUnit(t, filepath.Join(root, "utility_tools"), "missing.yaml", "unregistered_unit")

	reg := New(map[string]Factory{
		"known_unit": func() tools.Tool { return fakeTool{name: "known_unit"} },
	})
	report := reg.Load(root)

	if report.LoadedCount != 1 {
		t.Fatalf("expected 1 loaded, got %d", report.LoadedCount)
	}
	if len(report.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d: %+v", len(report.Failed), report.Failed)
	}
	if report.Failed[0].ErrorKind != "registry_discovery" {
		t.Fatalf("expected registry_discovery error kind, got %s", report.Failed[0].ErrorKind)
	}
}

func TestLoadRejectsDuplicateToolNames(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, filepath.Join(root, "utility_tools"), "a.yaml", "unit_a")
	writeUnit(t, filepath.Join(root, "data_tools"), "b.yaml", "unit_b")

	reg := New(map[string]Factory{
		"unit_a": func() tools.Tool { return fakeTool{name: "shared_name"} },
		"unit_b": func() tools.Tool { return fakeTool{name: "shared_name"} },
	})
	report := reg.Load(root)

	if report.LoadedCount != 1 {
		t.Fatalf("expected exactly 1 loaded (second rejected as duplicate), got %d", report.LoadedCount)
	}
	if len(report.Failed) != 1 {
		t.Fatalf("expected 1 duplicate failure, got %+v", report.Failed)
	}
}

func TestListAllSortedByName(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, filepath.Join(root, "utility_tools"), "z.yaml", "zeta")
	writeUnit(t, filepath.Join(root, "utility_tools"), "a.yaml", "alpha")

	reg := New(map[string]Factory{
		"zeta":  func() tools.Tool { return fakeTool{name: "zeta"} },
		"alpha": func() tools.Tool { return fakeTool{name: "alpha"} },
	})
	reg.Load(root)

	all := reg.ListAll()
	if len(all) != 2 || all[0].Name != "alpha" || all[1].Name != "zeta" {
		t.Fatalf("expected sorted [alpha, zeta], got %+v", all)
	}
}

func TestUnknownCategoryDirectoryIsIgnored(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, filepath.Join(root, "not_a_real_category"), "x.yaml", "ignored_unit")

	reg := New(nil)
	report := reg.Load(root)

	if report.LoadedCount != 0 || len(report.Failed) != 0 {
		t.Fatalf("expected unknown category directory to be silently skipped, got %+v", report)
	}
}
