package vkernel

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNamespacesAreIsolated(t *testing.T) {
	root := t.TempDir()
	mgr, err := NewManager(root)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	alpha, err := mgr.Create("alpha", 2, Cosine, DefaultGraphParams())
	if err != nil {
		t.Fatalf("create alpha: %v", err)
	}
	beta, err := mgr.Create("beta", 4, Euclidean, DefaultGraphParams())
	if err != nil {
		t.Fatalf("create beta: %v", err)
	}

	if err := alpha.Upsert("a1", []float32{1, 0}, nil); err != nil {
		t.Fatalf("upsert alpha: %v", err)
	}
	if got, err := beta.Query(Query{Vector: []float32{1, 0, 0, 0}, K: 5}); err != nil || len(got) != 0 {
		t.Fatalf("expected beta to be empty, got %v err %v", got, err)
	}
	if err := beta.Upsert("b1", []float32{0, 1, 0, 0}, nil); err != nil {
		t.Fatalf("upsert beta: %v", err)
	}
	if got, err := alpha.Query(Query{Vector: []float32{1, 0}, K: 5}); err != nil || len(got) != 1 {
		t.Fatalf("expected alpha to still have 1 entry, got %v err %v", got, err)
	}

	if err := mgr.Drop("alpha"); err != nil {
		t.Fatalf("drop alpha: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "alpha")); !os.IsNotExist(err) {
		t.Fatalf("expected alpha's directory to be removed")
	}
	if _, err := os.Stat(filepath.Join(root, "beta")); err != nil {
		t.Fatalf("expected beta's directory to remain: %v", err)
	}
	if _, err := mgr.Open("alpha"); err == nil {
		t.Fatalf("expected opening dropped namespace to fail")
	}
}

func TestInvalidNamespaceNameRejected(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	for _, name := range []string{"bad/name", "", "scratch.tmp", "old-gen.old", "x.backup", "y.restore", "z.lock"} {
		if _, err := mgr.Create(name, 2, Cosine, DefaultGraphParams()); err == nil {
			t.Fatalf("expected name %q to be rejected", name)
		}
	}
}

func TestLoadNamespacesDiscoversExisting(t *testing.T) {
	root := t.TempDir()
	mgr, err := NewManager(root)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := mgr.Create("gamma", 2, Cosine, DefaultGraphParams()); err != nil {
		t.Fatalf("create: %v", err)
	}

	mgr2, err := NewManager(root)
	if err != nil {
		t.Fatalf("NewManager 2: %v", err)
	}
	if err := mgr2.LoadNamespaces(); err != nil {
		t.Fatalf("LoadNamespaces: %v", err)
	}
	names := mgr2.List()
	if len(names) != 1 || names[0] != "gamma" {
		t.Fatalf("expected [gamma], got %v", names)
	}
}

func TestOpenUnknownNamespaceIsNotFound(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := mgr.Open("nope"); err == nil {
		t.Fatalf("expected not-found error")
	}
}
