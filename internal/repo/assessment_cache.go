// Package repo implements the persistence layer for the durable assessment
// cache, backed by GORM. This file provides the cache store itself: one row
// per sanitized product code, a fixed time-to-live evaluated lazily on read,
// and corruption handling that degrades to a miss instead of an error.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clearmeat/go-scan-core/internal/domain"
)

// ErrNotFound indicates the cache holds no valid entry for the given code.
// Expired and unparseable rows are deleted on the read that discovers them
// and reported through this same error; callers cannot distinguish the three
// cases, by contract.
var ErrNotFound = errors.New("not found")

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assessment_cache_hits_total",
		Help: "Reads served from the durable assessment cache.",
	})
	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assessment_cache_misses_total",
		Help: "Reads that found no valid entry (absent, expired, or corrupt).",
	})
	cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assessment_cache_evictions_total",
		Help: "Rows deleted because their TTL elapsed.",
	})
	cacheCorrupt = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assessment_cache_corrupt_total",
		Help: "Rows deleted because their payload failed to parse.",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheEvictions, cacheCorrupt)
}

// AssessmentCache is the durable per-code assessment store. All access to the
// backing table goes through this type; nothing else touches the rows.
//
// The zero value is not usable; construct with NewAssessmentCache.
type AssessmentCache struct {
	db  *gorm.DB
	ttl time.Duration

	// now is a seam for TTL-boundary tests.
	now func() time.Time
}

// NewAssessmentCache returns a cache over db whose entries are valid for ttl
// from their write time.
func NewAssessmentCache(db *gorm.DB, ttl time.Duration) *AssessmentCache {
	return &AssessmentCache{db: db, ttl: ttl, now: time.Now}
}

// Get returns the cached assessment for code, or ErrNotFound.
//
// Expiry is checked lazily here rather than on a timer: a row older than the
// TTL is deleted by the read that discovers it. A row whose payload fails to
// parse is treated the same way, so a corrupt entry self-heals on the next
// Put.
func (c *AssessmentCache) Get(ctx context.Context, code string) (*domain.Assessment, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}

	var rec domain.AssessmentRecord
	err := c.db.WithContext(ctx).Where("code = ?", code).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cacheMisses.Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if c.now().Sub(rec.WrittenAt) >= c.ttl {
		cacheEvictions.Inc()
		cacheMisses.Inc()
		c.delete(ctx, code)
		return nil, ErrNotFound
	}

	var a domain.Assessment
	if err := json.Unmarshal([]byte(rec.Payload), &a); err != nil {
		// Corrupt row: drop it and report a miss, never the parse error.
		cacheCorrupt.Inc()
		cacheMisses.Inc()
		c.delete(ctx, code)
		return nil, ErrNotFound
	}

	cacheHits.Inc()
	return &a, nil
}

// Put stores (or refreshes) the assessment for code with WrittenAt = now.
func (c *AssessmentCache) Put(ctx context.Context, code string, a *domain.Assessment) error {
	code = domain.NormalizeCode(code)
	if code == "" {
		return errors.New("empty code")
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	rec := domain.AssessmentRecord{
		Code:      code,
		Payload:   string(payload),
		WrittenAt: c.now().UTC(),
	}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "written_at"}),
		}).
		Create(&rec).Error
}

// EvictExpired deletes every row whose TTL has elapsed and returns the number
// of rows removed. Get already evicts lazily; this exists for the admin
// surface and for housekeeping at startup.
func (c *AssessmentCache) EvictExpired(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-c.ttl)
	res := c.db.WithContext(ctx).
		Where("written_at <= ?", cutoff).
		Delete(&domain.AssessmentRecord{})
	if res.Error != nil {
		return 0, res.Error
	}
	cacheEvictions.Add(float64(res.RowsAffected))
	return res.RowsAffected, nil
}

// Clear removes every cached assessment.
func (c *AssessmentCache) Clear(ctx context.Context) error {
	return c.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&domain.AssessmentRecord{}).Error
}

// Stats returns the number of cached assessments and the oldest write
// timestamp among them (nil when the cache is empty).
func (c *AssessmentCache) Stats(ctx context.Context) (count int64, oldest *time.Time, err error) {
	q := c.db.WithContext(ctx).Model(&domain.AssessmentRecord{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Order instead of MIN() to avoid SQLite's MIN() -> TEXT surprises.
	var row struct {
		WrittenAt time.Time
	}
	err = c.db.WithContext(ctx).Model(&domain.AssessmentRecord{}).
		Select("written_at").
		Order("written_at ASC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return 0, nil, err
	}
	return count, &row.WrittenAt, nil
}

// delete drops a row by code, best effort. Used by the lazy expiry and
// corruption paths where the read outcome is already decided.
func (c *AssessmentCache) delete(ctx context.Context, code string) {
	c.db.WithContext(ctx).Where("code = ?", code).Delete(&domain.AssessmentRecord{})
}
