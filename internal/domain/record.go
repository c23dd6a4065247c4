package domain

import "time"

// AssessmentRecord is one row of the durable assessment cache: a serialized
// Assessment keyed by sanitized product code, plus the write timestamp the
// TTL check is evaluated against. The payload is stored as opaque JSON so a
// schema change in Assessment degrades to a parse failure (treated as a
// cache miss), never a migration.
type AssessmentRecord struct {
	Code      string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Payload   string    `gorm:"type:TEXT NOT NULL"`
	WrittenAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (AssessmentRecord) TableName() string { return "assessment_cache" }
