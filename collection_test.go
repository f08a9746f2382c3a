package vkernel

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func mustOpen(t *testing.T, dim int, metric Metric) *Collection {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "coll")
	coll, err := Open(dir, WithDimension(dim), WithMetric(metric), WithSeed(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return coll
}

func ids(neighbors []Neighbor) []string {
	out := make([]string, len(neighbors))
	for i, n := range neighbors {
		out[i] = n.ID
	}
	return out
}

func TestQueryReturnsNearestInScoreOrder(t *testing.T) {
	coll := mustOpen(t, 3, Cosine)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	must(coll.Upsert("a", []float32{1, 0, 0}, map[string]any{"c": "x"}))
	must(coll.Upsert("b", []float32{0, 1, 0}, map[string]any{"c": "y"}))
	must(coll.Upsert("c", []float32{1, 1, 0}, map[string]any{"c": "x"}))

	got, err := coll.Query(Query{Vector: []float32{1, 0, 0}, K: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if want := []string{"a", "c"}; !equalStrings(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("scores not descending: %v", got)
		}
	}
}

func TestQueryWithFilterReturnsOnlyMatches(t *testing.T) {
	coll := mustOpen(t, 3, Cosine)
	_ = coll.Upsert("a", []float32{1, 0, 0}, map[string]any{"c": "x"})
	_ = coll.Upsert("b", []float32{0, 1, 0}, map[string]any{"c": "y"})
	_ = coll.Upsert("c", []float32{1, 1, 0}, map[string]any{"c": "x"})

	got, err := coll.Query(Query{Vector: []float32{1, 0, 0}, K: 2, Filter: Eq("c", "y")})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if want := []string{"b"}; !equalStrings(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
}

func TestDeletedIdentifierNeverAppearsInResults(t *testing.T) {
	coll := mustOpen(t, 3, Cosine)
	_ = coll.Upsert("a", []float32{1, 0, 0}, map[string]any{"c": "x"})
	_ = coll.Upsert("b", []float32{0, 1, 0}, map[string]any{"c": "y"})
	_ = coll.Upsert("c", []float32{1, 1, 0}, map[string]any{"c": "x"})

	if err := coll.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := coll.Query(Query{Vector: []float32{1, 0, 0}, K: 3})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results after delete, got %d (%v)", len(got), ids(got))
	}
	for _, n := range got {
		if n.ID == "a" {
			t.Fatalf("deleted id %q should not appear", "a")
		}
	}
	if want := []string{"c", "b"}; !equalStrings(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
}

func TestSaveThenReopenPreservesStateAndResults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "coll")
	coll, err := Open(dir, WithDimension(3), WithMetric(Cosine), WithSeed(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = coll.Upsert("a", []float32{1, 0, 0}, map[string]any{"c": "x"})
	_ = coll.Upsert("b", []float32{0, 1, 0}, map[string]any{"c": "y"})
	_ = coll.Upsert("c", []float32{1, 1, 0}, map[string]any{"c": "x"})
	_ = coll.Delete("a")

	before, err := coll.Query(Query{Vector: []float32{1, 0, 0}, K: 3})
	if err != nil {
		t.Fatalf("query before save: %v", err)
	}
	if err := coll.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := Open(dir, WithSeed(1))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	stats := reopened.Stats()
	if stats.Count != 2 || stats.Dimension != 3 || stats.Metric != Cosine {
		t.Fatalf("stats = %+v, want count=2 dimension=3 metric=cosine", stats)
	}
	after, err := reopened.Query(Query{Vector: []float32{1, 0, 0}, K: 3})
	if err != nil {
		t.Fatalf("query after reopen: %v", err)
	}
	if !equalStrings(ids(before), ids(after)) {
		t.Fatalf("query results changed across save/reopen: before=%v after=%v", ids(before), ids(after))
	}
}

func TestUpsertWrongDimensionRejectedWithoutMutation(t *testing.T) {
	coll := mustOpen(t, 3, Cosine)
	err := coll.Upsert("z", []float32{1, 0, 0, 0}, map[string]any{})
	if err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
	var kernelErr *Error
	if !errors.As(err, &kernelErr) || kernelErr.Kind != KindValidation {
		t.Fatalf("expected a Validation-kind error, got %v", err)
	}
	if coll.Len() != 0 {
		t.Fatalf("expected len 0 after rejected upsert, got %d", coll.Len())
	}
}

func TestUpsertEmptyIdentifierRejected(t *testing.T) {
	coll := mustOpen(t, 2, Cosine)
	if err := coll.Upsert("", []float32{1, 0}, nil); err == nil {
		t.Fatalf("expected error for empty identifier")
	}
}

func TestUpsertSameIDTwiceLeavesOneEntry(t *testing.T) {
	coll := mustOpen(t, 2, Cosine)
	_ = coll.Upsert("a", []float32{1, 0}, map[string]any{"v": 1.0})
	_ = coll.Upsert("a", []float32{0, 1}, map[string]any{"v": 2.0})
	if coll.Len() != 1 {
		t.Fatalf("expected 1 live entry, got %d", coll.Len())
	}
	got, err := coll.Query(Query{Vector: []float32{0, 1}, K: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].Metadata["v"] != 2.0 {
		t.Fatalf("expected second upsert's metadata to win, got %+v", got)
	}
}

func TestQueryEmptyCollectionReturnsEmpty(t *testing.T) {
	coll := mustOpen(t, 2, Cosine)
	got, err := coll.Query(Query{Vector: []float32{1, 0}, K: 5})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

func TestQueryZeroKReturnsEmptyWithoutError(t *testing.T) {
	coll := mustOpen(t, 2, Cosine)
	_ = coll.Upsert("a", []float32{1, 0}, nil)
	got, err := coll.Query(Query{Vector: []float32{1, 0}, K: 0})
	if err != nil || len(got) != 0 {
		t.Fatalf("k=0 query: got %v, err %v", got, err)
	}
}

func TestOptimizeIsIdempotent(t *testing.T) {
	coll := mustOpen(t, 2, Cosine)
	_ = coll.Upsert("a", []float32{1, 0}, nil)
	_ = coll.Upsert("b", []float32{0, 1}, nil)
	_ = coll.Delete("a")

	if err := coll.Optimize(); err != nil {
		t.Fatalf("optimize: %v", err)
	}
	first := coll.Len()
	if err := coll.Optimize(); err != nil {
		t.Fatalf("second optimize: %v", err)
	}
	if coll.Len() != first {
		t.Fatalf("optimize changed live count: %d -> %d", first, coll.Len())
	}
	got, err := coll.Query(Query{Vector: []float32{0, 1}, K: 5})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected only 'b' to survive optimize, got %v", ids(got))
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	coll := mustOpen(t, 2, Cosine)
	_ = coll.Upsert("a", []float32{1, 0}, map[string]any{"k": "v"})
	_ = coll.Upsert("b", []float32{0, 1}, nil)

	var buf bytes.Buffer
	if err := coll.Backup(&buf); err != nil {
		t.Fatalf("backup: %v", err)
	}

	target := mustOpen(t, 2, Cosine)
	if err := target.Restore(&buf); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if target.Len() != 2 {
		t.Fatalf("expected 2 entries after restore, got %d", target.Len())
	}
	got, err := target.Query(Query{Vector: []float32{1, 0}, K: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !equalStrings(ids(got), []string{"a", "b"}) {
		t.Fatalf("ids after restore = %v", ids(got))
	}
}

func TestBatchUpsertIsAllOrNothing(t *testing.T) {
	coll := mustOpen(t, 2, Cosine)
	bad := []UpsertItem{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{1, 0, 0}}, // wrong dimension
	}
	if err := coll.BatchUpsert(bad); err == nil {
		t.Fatalf("expected batch validation error")
	}
	if coll.Len() != 0 {
		t.Fatalf("failed batch must leave no side effects, got len %d", coll.Len())
	}

	good := []UpsertItem{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]any{"c": "x"}},
		{ID: "b", Vector: []float32{0, 1}, Metadata: map[string]any{"c": "y"}},
	}
	if err := coll.BatchUpsert(good); err != nil {
		t.Fatalf("batch upsert: %v", err)
	}
	if coll.Len() != 2 {
		t.Fatalf("expected both items visible, got len %d", coll.Len())
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	coll := mustOpen(t, 2, Cosine)
	for i := 0; i < 8; i++ {
		_ = coll.Upsert(fmt.Sprintf("seed-%d", i), []float32{float32(i), 1}, nil)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				if err := coll.Upsert(id, []float32{float32(i), float32(w)}, nil); err != nil {
					t.Errorf("upsert %s: %v", id, err)
					return
				}
			}
		}()
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := coll.Query(Query{Vector: []float32{1, 1}, K: 5}); err != nil {
					t.Errorf("query: %v", err)
					return
				}
				_ = coll.Stats()
			}
		}()
	}
	wg.Wait()

	if coll.Len() != 8+4*20 {
		t.Fatalf("expected %d live identifiers, got %d", 8+4*20, coll.Len())
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
