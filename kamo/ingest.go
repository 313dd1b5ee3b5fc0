package kamo

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// IngestResult counts what one area's batch did to storage.
type IngestResult struct {
	LoadInserted  int
	LoadDuplicate int
	SubInserted   int
	SubDuplicate  int
}

// Ingestor merges fetched batches into storage by natural key.
//
// Conflict policy: keep-existing. A load timestamp re-observed with a
// different value counts as a duplicate and never overwrites; upstream
// revisions of already-stored hourly values are not treated as authoritative.
// Snapshots are point-in-time and never revise, so any key collision is
// always a duplicate-skip.
type Ingestor struct {
	db *gorm.DB
}

func NewIngestor(db *gorm.DB) *Ingestor {
	return &Ingestor{db: db}
}

// Ingest commits one area's batch in a single transaction: either every new
// row lands or none do. Snapshots are stored under snapshotTime, the
// standardized poll mark.
func (ing *Ingestor) Ingest(areaID int, snapshotTime time.Time, loads []LoadPoint, subs []SubstationReading) (IngestResult, error) {
	var res IngestResult
	err := ing.db.Transaction(func(tx *gorm.DB) error {
		for _, p := range loads {
			var existing LoadRecord
			err := tx.Where("area_id = ? AND timestamp = ?", areaID, p.Timestamp).First(&existing).Error
			switch {
			case err == nil:
				res.LoadDuplicate++
			case errors.Is(err, gorm.ErrRecordNotFound):
				rec := LoadRecord{AreaID: areaID, Timestamp: p.Timestamp, LoadKW: p.LoadKW}
				if err := tx.Create(&rec).Error; err != nil {
					return err
				}
				res.LoadInserted++
			default:
				return err
			}
		}
		for _, s := range subs {
			var existing SubstationSnapshot
			err := tx.Where("area_id = ? AND snapshot_time = ? AND substation_name = ?", areaID, snapshotTime, s.Name).First(&existing).Error
			switch {
			case err == nil:
				res.SubDuplicate++
			case errors.Is(err, gorm.ErrRecordNotFound):
				snap := SubstationSnapshot{
					AreaID:         areaID,
					SnapshotTime:   snapshotTime,
					SubstationName: s.Name,
					KW:             s.KW,
					KVAR:           s.KVAR,
					PF:             s.PF,
					Quality:        s.Quality,
					QualityNow:     s.QualityNow,
				}
				if err := tx.Create(&snap).Error; err != nil {
					return err
				}
				res.SubInserted++
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest area %d: %w", areaID, err)
	}
	return res, nil
}
