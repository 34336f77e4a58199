package model

import (
	"testing"
)

func buildSampleTree(t *testing.T) *EntityTree {
	t.Helper()
	tree := NewEntityTree("layout")

	a, err := tree.Root().AddChild("a")
	if err != nil {
		t.Fatalf("AddChild(a) error: %v", err)
	}
	if _, err := tree.Root().AddChild("b"); err != nil {
		t.Fatalf("AddChild(b) error: %v", err)
	}
	if _, err := a.AddChild("x"); err != nil {
		t.Fatalf("AddChild(x) error: %v", err)
	}
	if _, err := a.AddChild("y"); err != nil {
		t.Fatalf("AddChild(y) error: %v", err)
	}
	return tree
}

func TestTreePaths(t *testing.T) {
	tree := buildSampleTree(t)

	node, ok := tree.NodeAt("a/x")
	if !ok {
		t.Fatal("NodeAt(a/x) missing")
	}
	if node.Path() != "a/x" {
		t.Errorf("Path() = %q, want %q", node.Path(), "a/x")
	}
	if tree.Root().Path() != "" {
		t.Errorf("root Path() = %q, want empty", tree.Root().Path())
	}
	if tree.Len() != 5 {
		t.Errorf("Len() = %d, want 5 (root + 2 children + 2 grandchildren)", tree.Len())
	}
}

func TestTreeWalk_PreOrder(t *testing.T) {
	tree := buildSampleTree(t)

	var paths []string
	err := tree.Walk(func(path string, _ *TreeNode) error {
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error: %v", err)
	}

	want := []string{"", "a", "a/x", "a/y", "b"}
	if len(paths) != len(want) {
		t.Fatalf("visited %d nodes, want %d", len(paths), len(want))
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("visit %d = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestTreeAddChild_Validation(t *testing.T) {
	tree := NewEntityTree("layout")
	if _, err := tree.Root().AddChild(""); err == nil {
		t.Error("AddChild(\"\") succeeded")
	}
	if _, err := tree.Root().AddChild("a/b"); err == nil {
		t.Error("AddChild(\"a/b\") succeeded; keys may not contain '/'")
	}
	if _, err := tree.Root().AddChild("a"); err != nil {
		t.Fatalf("AddChild(a) error: %v", err)
	}
	if _, err := tree.Root().AddChild("a"); err == nil {
		t.Error("duplicate AddChild(a) succeeded")
	}
}
