package integration

import (
	"fmt"
	"testing"
	"time"

	"github.com/agentforge/deployq/internal/storage/postgres"
)

// BenchmarkJobRepository_Create benchmarks queued inserts. Every iteration
// targets a distinct agent so the one-active-per-target index never rejects.
func BenchmarkJobRepository_Create(b *testing.B) {
	db, ctx := setupTestDB(b)
	repo := postgres.NewJobRepository(db)

	for i := 0; b.Loop(); i++ {
		_ = repo.Create(ctx, queuedJob(fmt.Sprintf("bench-%d", i)))
	}
}

// BenchmarkJobRepository_Get benchmarks single-record reads.
func BenchmarkJobRepository_Get(b *testing.B) {
	db, ctx := setupTestDB(b)
	repo := postgres.NewJobRepository(db)

	j := queuedJob("bench-get")
	_ = repo.Create(ctx, j)

	for b.Loop() {
		_, _ = repo.Get(ctx, j.ID)
	}
}

// BenchmarkJobRepository_ClaimRelease benchmarks a full claim and release
// cycle, the hot path of an idle-to-busy worker.
func BenchmarkJobRepository_ClaimRelease(b *testing.B) {
	db, ctx := setupTestDB(b)
	repo := postgres.NewJobRepository(db)

	j := queuedJob("bench-claim")
	_ = repo.Create(ctx, j)

	for b.Loop() {
		ok, err := repo.Claim(ctx, j, time.Minute)
		if err != nil || !ok {
			b.Fatalf("claim failed: ok=%v err=%v", ok, err)
		}
		ok, err = repo.Release(ctx, j)
		if err != nil || !ok {
			b.Fatalf("release failed: ok=%v err=%v", ok, err)
		}
	}
}

// BenchmarkJobRepository_CountActive benchmarks the per-target invariant
// check that runs on every submit and every claim.
func BenchmarkJobRepository_CountActive(b *testing.B) {
	db, ctx := setupTestDB(b)
	repo := postgres.NewJobRepository(db)

	_ = repo.Create(ctx, queuedJob("bench-count"))

	for b.Loop() {
		_, _ = repo.CountActive(ctx, "bench-count")
	}
}
