package kamo

import "time"

// Import run statuses. A run is created as running and finalized exactly once.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// PFUnknown marks a substation reading whose power factor was absent upstream.
const PFUnknown = -1.0

// Aggregate rollup areas (MO Region, OK Region, KAMO Total). They have no
// substations of their own, so the substation feed is skipped for them.
var aggregateAreaIDs = map[int]bool{18: true, 19: true, 20: true}

// Cooperative is one grid area, cached from the upstream /area feed.
type Cooperative struct {
	ID           int    `gorm:"primaryKey"`
	Name         string `gorm:"size:255"`
	Abbreviation string `gorm:"size:10"`
	IsAggregate  bool
	UpdatedAt    time.Time
}

// LoadRecord is one hourly load observation. Natural key (area_id, timestamp);
// the upstream feed re-serves a rolling ~12h window, so the same key is
// re-observed many times and must dedupe to a single row.
type LoadRecord struct {
	ID        uint      `gorm:"primaryKey"`
	AreaID    int       `gorm:"uniqueIndex:uniq_load_area_ts;index:idx_load_area_time"`
	Timestamp time.Time `gorm:"uniqueIndex:uniq_load_area_ts;index:idx_load_area_time;index"`
	LoadKW    float64
	CreatedAt time.Time
}

// SubstationSnapshot is one point-in-time substation reading, stored under the
// standardized poll mark. Natural key (area_id, snapshot_time, substation_name).
type SubstationSnapshot struct {
	ID             uint      `gorm:"primaryKey"`
	AreaID         int       `gorm:"uniqueIndex:uniq_sub_snapshot;index:idx_sub_area_time"`
	SnapshotTime   time.Time `gorm:"uniqueIndex:uniq_sub_snapshot;index:idx_sub_area_time"`
	SubstationName string    `gorm:"uniqueIndex:uniq_sub_snapshot;size:255"`
	KW             float64
	KVAR           float64
	// PF is PFUnknown when the upstream row omitted it.
	PF         float64
	Quality    *bool
	QualityNow *bool
	CreatedAt  time.Time
}

// ImportRun is the audit record of one ingestion cycle. Rows are append-only:
// created at cycle start, finalized at cycle end, never edited afterwards.
type ImportRun struct {
	ID              uint      `gorm:"primaryKey"`
	StartedAt       time.Time `gorm:"index"`
	CompletedAt     *time.Time
	Status          string `gorm:"size:20;index"` // running, success, partial, failed
	Trigger         string `gorm:"size:20"`       // scheduled, manual
	LoadImported    int
	LoadSkipped     int
	SubImported     int
	SubSkipped      int
	AreasOK         int
	AreasFailed     int
	AreaResults     string `gorm:"type:text"` // JSON array of AreaResult
	ErrorMessage    string `gorm:"type:text"`
	DurationSeconds float64
}

// AreaResult is the per-area outcome embedded in ImportRun.AreaResults.
type AreaResult struct {
	AreaID       int    `json:"area_id"`
	LoadImported int    `json:"load_imported"`
	LoadSkipped  int    `json:"load_skipped"`
	SubImported  int    `json:"sub_imported"`
	SubSkipped   int    `json:"sub_skipped"`
	Error        string `json:"error,omitempty"`
}

// LoadPoint is a normalized load-history sample from the upstream client.
type LoadPoint struct {
	Timestamp time.Time
	LoadKW    float64
}

// SubstationReading is a normalized substation row from the upstream client.
type SubstationReading struct {
	Name       string
	KW         float64
	KVAR       float64
	PF         float64
	Quality    *bool
	QualityNow *bool
}
