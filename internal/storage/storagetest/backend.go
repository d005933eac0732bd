package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/FranksOps/rankscout/internal/storage"
)

// Exercise saves a sample run to b and checks that Query returns it intact,
// ordered, filtered and paged. runID should be unique per backend instance.
func Exercise(t *testing.T, b storage.Backend, runID string) {
	t.Helper()
	ctx := context.Background()
	at := time.Now().UTC()

	run := SampleRun(runID, at)
	if err := b.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	got, err := b.Query(ctx, storage.Filter{RunID: runID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != len(run.Observations) {
		t.Fatalf("expected %d observations, got %d", len(run.Observations), len(got))
	}
	for i, want := range run.Observations {
		if diff := Diff(want, got[i]); len(diff) > 0 {
			t.Errorf("observation %d differs in %v", i, diff)
		}
	}

	match := true
	matched, err := b.Query(ctx, storage.Filter{RunID: runID, BrandMatch: &match})
	if err != nil {
		t.Fatalf("query brand match: %v", err)
	}
	if len(matched) != 1 || matched[0].Title != "Bright Smile Dental London" {
		t.Errorf("expected the single brand match, got %d rows", len(matched))
	}

	byKeyword, err := b.Query(ctx, storage.Filter{RunID: runID, Keyword: "estate agent belfast"})
	if err != nil {
		t.Fatalf("query keyword: %v", err)
	}
	if len(byKeyword) != 1 || !byKeyword[0].NotFound || byKeyword[0].RankPosition != nil {
		t.Errorf("expected the sentinel row, got %d rows", len(byKeyword))
	}

	paged, err := b.Query(ctx, storage.Filter{RunID: runID, Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("query paged: %v", err)
	}
	if len(paged) != 1 || paged[0].Seq != 2 {
		t.Errorf("expected seq 2 on the second page, got %d rows", len(paged))
	}

	since := at.Add(500 * time.Millisecond)
	recent, err := b.Query(ctx, storage.Filter{RunID: runID, Since: &since})
	if err != nil {
		t.Fatalf("query since: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("expected 1 observation after %v, got %d", since, len(recent))
	}
}
