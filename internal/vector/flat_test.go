package vector

import (
	"testing"
)

func TestFlatIndex_InsertSearch(t *testing.T) {
	idx, err := NewFlatIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	vecs := map[string][]float32{
		"a": {1, 0, 0},
		"b": {0.9, 0.1, 0},
		"c": {0, 1, 0},
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := idx.Insert(id, vecs[id]); err != nil {
			t.Fatal(err)
		}
	}
	if idx.Len() != 3 {
		t.Errorf("Len=%d", idx.Len())
	}

	results, err := idx.Search([]float32{1, 0, 0}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("got %s, %s; want a, b", results[0].ID, results[1].ID)
	}
}

func TestFlatIndex_DeleteAndReplace(t *testing.T) {
	idx, _ := NewFlatIndex(2)
	_ = idx.Insert("x", []float32{1, 0})
	_ = idx.Insert("y", []float32{0, 1})
	if !idx.Delete("x") {
		t.Fatal("expected delete to report true")
	}
	if idx.Len() != 1 || idx.Contains("x") {
		t.Errorf("expected only y to remain")
	}
	_ = idx.Insert("y", []float32{1, 0})
	v, ok := idx.Vector("y")
	if !ok || v[0] != 1 {
		t.Errorf("Vector(y) = %v, %v", v, ok)
	}
	if idx.Len() != 1 {
		t.Errorf("replace should not duplicate, Len=%d", idx.Len())
	}
}

func TestFlatIndex_TieBreak(t *testing.T) {
	idx, _ := NewFlatIndex(2)
	for _, id := range []string{"p", "q", "r"} {
		_ = idx.Insert(id, []float32{1, 1})
	}
	results, _ := idx.Search([]float32{1, 1}, 3, 0)
	for i, want := range []string{"p", "q", "r"} {
		if results[i].ID != want {
			t.Errorf("result %d = %s, want %s", i, results[i].ID, want)
		}
	}
}
