package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/clearmeat/go-scan-core/internal/domain"
)

// newTestCache opens a fresh SQLite database in a temp dir and returns a
// cache over it with the given TTL.
func newTestCache(t *testing.T, ttl time.Duration) *AssessmentCache {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return NewAssessmentCache(db, ttl)
}

func sampleAssessment() *domain.Assessment {
	return &domain.Assessment{
		Code:       "0002000003197",
		Name:       "Chicken breast fillet",
		Brand:      "TestBrand",
		Grade:      "B",
		RiskRating: "Yellow",
		Ingredients: []domain.Ingredient{
			{ID: "e250", Name: "Sodium nitrite"},
		},
	}
}

func TestAssessmentCachePutGet(t *testing.T) {
	c := newTestCache(t, 24*time.Hour)
	ctx := context.Background()

	if _, err := c.Get(ctx, "0002000003197"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty cache: err = %v, want ErrNotFound", err)
	}

	if err := c.Put(ctx, "0002000003197", sampleAssessment()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := c.Get(ctx, "0002000003197")
	if err != nil {
		t.Fatalf("Get after Put: %v", err)
	}
	if got.Grade != "B" {
		t.Errorf("Grade = %q, want B", got.Grade)
	}
	if len(got.Ingredients) != 1 || got.Ingredients[0].ID != "e250" {
		t.Errorf("Ingredients = %+v, want the stored reference", got.Ingredients)
	}
}

func TestAssessmentCacheGetNormalizesCode(t *testing.T) {
	c := newTestCache(t, 24*time.Hour)
	ctx := context.Background()

	if err := c.Put(ctx, " 0002 0000 03197 ", sampleAssessment()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := c.Get(ctx, "0002000003197"); err != nil {
		t.Fatalf("Get with canonical code after messy Put: %v", err)
	}

	if _, err := c.Get(ctx, "  --  "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get with empty-after-normalization code: err = %v, want ErrNotFound", err)
	}
	if err := c.Put(ctx, " -- ", sampleAssessment()); err == nil {
		t.Fatal("Put with empty-after-normalization code: expected error")
	}
}

func TestAssessmentCacheTTLBoundary(t *testing.T) {
	c := newTestCache(t, 24*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	c.now = func() time.Time { return base }
	if err := c.Put(ctx, "123", sampleAssessment()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Just inside the window the entry is valid.
	c.now = func() time.Time { return base.Add(24*time.Hour - time.Second) }
	if _, err := c.Get(ctx, "123"); err != nil {
		t.Fatalf("Get inside TTL: %v", err)
	}

	// At the boundary it is expired and the read deletes the row.
	c.now = func() time.Time { return base.Add(24 * time.Hour) }
	if _, err := c.Get(ctx, "123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get at TTL boundary: err = %v, want ErrNotFound", err)
	}

	// Deleted for good, not just masked: a later in-window read also misses.
	c.now = func() time.Time { return base }
	if _, err := c.Get(ctx, "123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after lazy eviction: err = %v, want ErrNotFound", err)
	}
}

func TestAssessmentCachePutRefreshesWriteTime(t *testing.T) {
	c := newTestCache(t, 24*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	c.now = func() time.Time { return base }
	if err := c.Put(ctx, "123", sampleAssessment()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Refresh 20 hours in.
	c.now = func() time.Time { return base.Add(20 * time.Hour) }
	refreshed := sampleAssessment()
	refreshed.Grade = "A"
	if err := c.Put(ctx, "123", refreshed); err != nil {
		t.Fatalf("Put refresh: %v", err)
	}

	// 30 hours after the original write, 10 after the refresh: still valid,
	// and the payload is the refreshed one.
	c.now = func() time.Time { return base.Add(30 * time.Hour) }
	got, err := c.Get(ctx, "123")
	if err != nil {
		t.Fatalf("Get after refresh: %v", err)
	}
	if got.Grade != "A" {
		t.Errorf("Grade = %q, want refreshed A", got.Grade)
	}
}

func TestAssessmentCacheCorruptRowDegradesToMiss(t *testing.T) {
	c := newTestCache(t, 24*time.Hour)
	ctx := context.Background()

	if err := c.Put(ctx, "999", sampleAssessment()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Corrupt the stored payload behind the cache's back.
	err := c.db.Model(&domain.AssessmentRecord{}).
		Where("code = ?", "999").
		Update("payload", "{not json").Error
	if err != nil {
		t.Fatalf("corrupting row: %v", err)
	}

	if _, err := c.Get(ctx, "999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on corrupt row: err = %v, want ErrNotFound", err)
	}

	// The corrupt row was dropped, so a fresh Put self-heals.
	if err := c.Put(ctx, "999", sampleAssessment()); err != nil {
		t.Fatalf("Put after corruption: %v", err)
	}
	if _, err := c.Get(ctx, "999"); err != nil {
		t.Fatalf("Get after self-heal: %v", err)
	}
}

func TestAssessmentCacheEvictExpired(t *testing.T) {
	c := newTestCache(t, 24*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	c.now = func() time.Time { return base.Add(-48 * time.Hour) }
	if err := c.Put(ctx, "old1", sampleAssessment()); err != nil {
		t.Fatalf("Put old1: %v", err)
	}
	if err := c.Put(ctx, "old2", sampleAssessment()); err != nil {
		t.Fatalf("Put old2: %v", err)
	}
	c.now = func() time.Time { return base }
	if err := c.Put(ctx, "fresh", sampleAssessment()); err != nil {
		t.Fatalf("Put fresh: %v", err)
	}

	n, err := c.EvictExpired(ctx)
	if err != nil {
		t.Fatalf("EvictExpired: %v", err)
	}
	if n != 2 {
		t.Fatalf("EvictExpired removed %d rows, want 2", n)
	}

	if _, err := c.Get(ctx, "fresh"); err != nil {
		t.Fatalf("fresh entry evicted: %v", err)
	}
	if _, err := c.Get(ctx, "old1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old entry survived eviction: err = %v", err)
	}
}

func TestAssessmentCacheClearAndStats(t *testing.T) {
	c := newTestCache(t, 24*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	count, oldest, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats on empty cache: %v", err)
	}
	if count != 0 || oldest != nil {
		t.Fatalf("Stats on empty cache = (%d, %v), want (0, nil)", count, oldest)
	}

	c.now = func() time.Time { return base }
	if err := c.Put(ctx, "a", sampleAssessment()); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	c.now = func() time.Time { return base.Add(time.Hour) }
	if err := c.Put(ctx, "b", sampleAssessment()); err != nil {
		t.Fatalf("Put b: %v", err)
	}

	count, oldest, err = c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if oldest == nil || !oldest.Equal(base) {
		t.Errorf("oldest = %v, want %v", oldest, base)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	count, _, err = c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats after Clear: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d after Clear, want 0", count)
	}
}

func TestAssessmentCacheUpsertKeepsOneRowPerCode(t *testing.T) {
	c := newTestCache(t, 24*time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.Put(ctx, "dup", sampleAssessment()); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}

	var n int64
	if err := c.db.Model(&domain.AssessmentRecord{}).Where("code = ?", "dup").Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("row count for code = %d, want 1", n)
	}
}

func TestOpenSQLiteMissingParentDir(t *testing.T) {
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "missing", "cache.db")); err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestAutoMigrateIdempotent(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("AutoMigrate #%d: %v", i, err)
		}
	}
	if !db.Migrator().HasTable(&domain.AssessmentRecord{}) {
		t.Fatal("assessment_cache table missing after migration")
	}
}
