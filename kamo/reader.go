package kamo

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Reader answers read queries over persisted data. It never mutates storage;
// batch atomicity in the ingestor guarantees it cannot observe a
// half-committed batch.
type Reader struct {
	db  *gorm.DB
	loc *time.Location
	now func() time.Time
}

func NewReader(db *gorm.DB, loc *time.Location) *Reader {
	if loc == nil {
		loc = time.UTC
	}
	return &Reader{db: db, loc: loc, now: time.Now}
}

type CurrentLoad struct {
	AreaID    int       `json:"area_id"`
	AreaName  string    `json:"area_name"`
	LoadKW    float64   `json:"load_kw"`
	Timestamp time.Time `json:"timestamp"`
}

type LoadStats struct {
	AreaID      int      `json:"area_id"`
	AreaName    string   `json:"area_name"`
	PeriodHours int      `json:"period_hours"`
	Count       int64    `json:"record_count"`
	MinKW       *float64 `json:"min_kw"`
	MaxKW       *float64 `json:"max_kw"`
	AvgKW       *float64 `json:"avg_kw"`
}

type SubstationBoard struct {
	AreaID       int                  `json:"area_id"`
	AreaName     string               `json:"area_name"`
	SnapshotTime time.Time            `json:"snapshot_time"`
	Substations  []SubstationSnapshot `json:"substations"`
}

func (r *Reader) area(areaID int) (*Cooperative, error) {
	var coop Cooperative
	err := r.db.First(&coop, areaID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrAreaNotFound, areaID)
	}
	if err != nil {
		return nil, err
	}
	return &coop, nil
}

// CurrentLoad returns the most recent load observation for an area.
func (r *Reader) CurrentLoad(areaID int) (*CurrentLoad, error) {
	coop, err := r.area(areaID)
	if err != nil {
		return nil, err
	}
	var latest LoadRecord
	err = r.db.Where("area_id = ?", areaID).Order("timestamp desc").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, err
	}
	return &CurrentLoad{
		AreaID:    coop.ID,
		AreaName:  coop.Name,
		LoadKW:    latest.LoadKW,
		Timestamp: latest.Timestamp,
	}, nil
}

// LoadHistory returns the trailing window of load records, oldest first.
func (r *Reader) LoadHistory(areaID int, hours int) ([]LoadRecord, error) {
	if hours <= 0 {
		return nil, fmt.Errorf("%w: hours must be positive, got %d", ErrInvalidRange, hours)
	}
	if _, err := r.area(areaID); err != nil {
		return nil, err
	}
	cutoff := r.now().In(r.loc).Add(-time.Duration(hours) * time.Hour)
	var records []LoadRecord
	err := r.db.Where("area_id = ? AND timestamp >= ?", areaID, cutoff).
		Order("timestamp asc").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// PeakLoad returns the single highest load record in the trailing window,
// earliest timestamp winning ties.
func (r *Reader) PeakLoad(areaID int, days int) (*LoadRecord, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive, got %d", ErrInvalidRange, days)
	}
	if _, err := r.area(areaID); err != nil {
		return nil, err
	}
	cutoff := r.now().In(r.loc).Add(-time.Duration(days) * 24 * time.Hour)
	var peak LoadRecord
	err := r.db.Where("area_id = ? AND timestamp >= ?", areaID, cutoff).
		Order("load_kw desc, timestamp asc").First(&peak).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, err
	}
	return &peak, nil
}

// LoadStats aggregates the trailing window for an area.
func (r *Reader) LoadStats(areaID int, hours int) (*LoadStats, error) {
	if hours <= 0 {
		return nil, fmt.Errorf("%w: hours must be positive, got %d", ErrInvalidRange, hours)
	}
	coop, err := r.area(areaID)
	if err != nil {
		return nil, err
	}
	cutoff := r.now().In(r.loc).Add(-time.Duration(hours) * time.Hour)
	stats := &LoadStats{AreaID: coop.ID, AreaName: coop.Name, PeriodHours: hours}
	row := r.db.Model(&LoadRecord{}).
		Select("count(id), min(load_kw), max(load_kw), avg(load_kw)").
		Where("area_id = ? AND timestamp >= ?", areaID, cutoff).Row()
	if err := row.Scan(&stats.Count, &stats.MinKW, &stats.MaxKW, &stats.AvgKW); err != nil {
		return nil, err
	}
	return stats, nil
}

// CurrentSubstations returns every substation at the most recent snapshot
// mark for the area.
func (r *Reader) CurrentSubstations(areaID int) (*SubstationBoard, error) {
	coop, err := r.area(areaID)
	if err != nil {
		return nil, err
	}
	var latest SubstationSnapshot
	err = r.db.Where("area_id = ?", areaID).Order("snapshot_time desc").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, err
	}
	var subs []SubstationSnapshot
	err = r.db.Where("area_id = ? AND snapshot_time = ?", areaID, latest.SnapshotTime).
		Order("substation_name asc").Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return &SubstationBoard{
		AreaID:       coop.ID,
		AreaName:     coop.Name,
		SnapshotTime: latest.SnapshotTime,
		Substations:  subs,
	}, nil
}

// SubstationHistory returns snapshots in the trailing window ordered by mark
// then name, oldest mark first.
func (r *Reader) SubstationHistory(areaID int, hours int) ([]SubstationSnapshot, error) {
	if hours <= 0 {
		return nil, fmt.Errorf("%w: hours must be positive, got %d", ErrInvalidRange, hours)
	}
	if _, err := r.area(areaID); err != nil {
		return nil, err
	}
	cutoff := r.now().In(r.loc).Add(-time.Duration(hours) * time.Hour)
	var snaps []SubstationSnapshot
	err := r.db.Where("area_id = ? AND snapshot_time >= ?", areaID, cutoff).
		Order("snapshot_time asc, substation_name asc").Find(&snaps).Error
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// ListSubstations returns the distinct substation names seen for an area.
func (r *Reader) ListSubstations(areaID int) ([]string, error) {
	if _, err := r.area(areaID); err != nil {
		return nil, err
	}
	var names []string
	err := r.db.Model(&SubstationSnapshot{}).Distinct("substation_name").
		Where("area_id = ?", areaID).Order("substation_name asc").Pluck("substation_name", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Cooperatives returns the cached area list ordered by ID.
func (r *Reader) Cooperatives() ([]Cooperative, error) {
	var coops []Cooperative
	if err := r.db.Order("id asc").Find(&coops).Error; err != nil {
		return nil, err
	}
	return coops, nil
}

// RecentRuns returns the newest import runs, most recent first.
func (r *Reader) RecentRuns(limit int) ([]ImportRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var runs []ImportRun
	err := r.db.Order("started_at desc, id desc").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

type SystemStatus struct {
	Status            string     `json:"status"` // healthy, degraded, unhealthy
	LastRun           *ImportRun `json:"last_run,omitempty"`
	LastSuccess       *time.Time `json:"last_successful_import,omitempty"`
	ImportsLast24h    int64      `json:"imports_last_24h"`
	SuccessRate24h    float64    `json:"success_rate_24h"`
	LoadRecords       int64      `json:"load_records"`
	SubstationRecords int64      `json:"substation_records"`
	Cooperatives      int64      `json:"cooperatives"`
	OldestLoad        *time.Time `json:"oldest_record,omitempty"`
	NewestLoad        *time.Time `json:"newest_record,omitempty"`
	NextRun           *time.Time `json:"next_scheduled_run,omitempty"`
}

// Status summarizes the health surface: last run, 24h success rate, and table
// counts. NextRun is filled in by the caller that owns the scheduler.
func (r *Reader) Status() (*SystemStatus, error) {
	st := &SystemStatus{Status: "healthy"}

	var last ImportRun
	err := r.db.Order("started_at desc, id desc").First(&last).Error
	if err == nil {
		st.LastRun = &last
		if last.Status == RunStatusFailed {
			st.Status = "degraded"
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var lastOK ImportRun
	err = r.db.Where("status = ?", RunStatusSuccess).Order("started_at desc, id desc").First(&lastOK).Error
	if err == nil {
		st.LastSuccess = lastOK.CompletedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cutoff := r.now().In(r.loc).Add(-24 * time.Hour)
	var total, ok int64
	if err := r.db.Model(&ImportRun{}).Where("started_at >= ?", cutoff).Count(&total).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&ImportRun{}).Where("started_at >= ? AND status = ?", cutoff, RunStatusSuccess).Count(&ok).Error; err != nil {
		return nil, err
	}
	st.ImportsLast24h = total
	if total > 0 {
		st.SuccessRate24h = float64(ok) / float64(total) * 100
		if st.SuccessRate24h < 50 {
			st.Status = "unhealthy"
		}
	}

	if err := r.db.Model(&LoadRecord{}).Count(&st.LoadRecords).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&SubstationSnapshot{}).Count(&st.SubstationRecords).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&Cooperative{}).Count(&st.Cooperatives).Error; err != nil {
		return nil, err
	}

	if st.LoadRecords > 0 {
		var oldest, newest LoadRecord
		if err := r.db.Order("timestamp asc").First(&oldest).Error; err == nil {
			st.OldestLoad = &oldest.Timestamp
		}
		if err := r.db.Order("timestamp desc").First(&newest).Error; err == nil {
			st.NewestLoad = &newest.Timestamp
		}
	}
	return st, nil
}
