package annindex

import (
	"bytes"
	"testing"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	g := New(Euclidean, DefaultParams(), 1)
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}, {1, 1, 0}, {0.2, 0.8, 0.1}}
	for i, v := range vectors {
		if err := g.Insert(uint32(i), v); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	g.Remove(3)

	var buf bytes.Buffer
	if err := g.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	restored := New(Euclidean, DefaultParams(), 1)
	if err := restored.Deserialize(&buf); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if restored.Size() != g.Size() || restored.Len() != g.Len() {
		t.Fatalf("shape diverges: size %d vs %d, len %d vs %d",
			restored.Size(), g.Size(), restored.Len(), g.Len())
	}

	query := []float32{0.9, 0.1, 0}
	want, err := g.Search(query, 3, 200)
	if err != nil {
		t.Fatalf("search original: %v", err)
	}
	got, err := restored.Search(query, 3, 200)
	if err != nil {
		t.Fatalf("search restored: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("result count diverges: %d vs %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Idx != want[i].Idx || got[i].Score != want[i].Score {
			t.Errorf("result %d diverges: (%d,%v) vs (%d,%v)",
				i, got[i].Idx, got[i].Score, want[i].Idx, want[i].Score)
		}
	}
	for _, r := range got {
		if r.Idx == 3 {
			t.Fatalf("removed index must stay removed after a round trip")
		}
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	g := New(Cosine, DefaultParams(), 1)
	if err := g.Deserialize(bytes.NewReader([]byte("not a graph"))); err == nil {
		t.Fatalf("expected decode error")
	}
}
