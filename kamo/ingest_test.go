package kamo

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "kamo_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = CloseDB(db) })
	return db
}

func hourlyPoints(start time.Time, hours int, kw float64) []LoadPoint {
	points := make([]LoadPoint, 0, hours)
	for i := 0; i < hours; i++ {
		points = append(points, LoadPoint{Timestamp: start.Add(time.Duration(i) * time.Hour), LoadKW: kw})
	}
	return points
}

func TestIngest_SameBatchTwiceIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ing := NewIngestor(db)
	mark := time.Date(2026, 2, 7, 10, 5, 0, 0, time.UTC)
	loads := hourlyPoints(time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC), 12, 100)
	subs := []SubstationReading{
		{Name: "North", KW: 1200, KVAR: 300, PF: 0.97},
		{Name: "South", KW: 800, KVAR: 150, PF: 0.95},
	}

	first, err := ing.Ingest(3, mark, loads, subs)
	if err != nil {
		t.Fatal(err)
	}
	if first.LoadInserted != 12 || first.LoadDuplicate != 0 {
		t.Fatalf("first pass: inserted=%d duplicates=%d", first.LoadInserted, first.LoadDuplicate)
	}
	if first.SubInserted != 2 || first.SubDuplicate != 0 {
		t.Fatalf("first pass subs: inserted=%d duplicates=%d", first.SubInserted, first.SubDuplicate)
	}

	second, err := ing.Ingest(3, mark, loads, subs)
	if err != nil {
		t.Fatal(err)
	}
	if second.LoadInserted != 0 || second.LoadDuplicate != 12 {
		t.Fatalf("second pass: inserted=%d duplicates=%d", second.LoadInserted, second.LoadDuplicate)
	}
	if second.SubInserted != 0 || second.SubDuplicate != 2 {
		t.Fatalf("second pass subs: inserted=%d duplicates=%d", second.SubInserted, second.SubDuplicate)
	}

	var loadCount, subCount int64
	if err := db.Model(&LoadRecord{}).Count(&loadCount).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Model(&SubstationSnapshot{}).Count(&subCount).Error; err != nil {
		t.Fatal(err)
	}
	if loadCount != 12 || subCount != 2 {
		t.Fatalf("expected 12 load rows and 2 snapshot rows, got %d and %d", loadCount, subCount)
	}
}

func TestIngest_OverlappingWindowsYieldOneRowPerHour(t *testing.T) {
	db := openTestDB(t)
	ing := NewIngestor(db)
	mark := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

	// Two successive 12-hour windows one hour apart: 11 overlapping hours.
	first := hourlyPoints(time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC), 12, 100)
	second := hourlyPoints(time.Date(2026, 2, 7, 1, 0, 0, 0, time.UTC), 12, 100)

	if _, err := ing.Ingest(1, mark, first, nil); err != nil {
		t.Fatal(err)
	}
	res, err := ing.Ingest(1, mark, second, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.LoadInserted != 1 || res.LoadDuplicate != 11 {
		t.Fatalf("overlap pass: inserted=%d duplicates=%d", res.LoadInserted, res.LoadDuplicate)
	}

	var count int64
	if err := db.Model(&LoadRecord{}).Where("area_id = ?", 1).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 13 {
		t.Fatalf("expected 13 distinct hourly rows, got %d", count)
	}
}

func TestIngest_DifferingReobservedValueKeepsExisting(t *testing.T) {
	db := openTestDB(t)
	ing := NewIngestor(db)
	mark := time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)
	ts := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	if _, err := ing.Ingest(2, mark, []LoadPoint{{Timestamp: ts, LoadKW: 150}}, nil); err != nil {
		t.Fatal(err)
	}
	res, err := ing.Ingest(2, mark, []LoadPoint{{Timestamp: ts, LoadKW: 175}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.LoadInserted != 0 || res.LoadDuplicate != 1 {
		t.Fatalf("revised value: inserted=%d duplicates=%d", res.LoadInserted, res.LoadDuplicate)
	}

	var stored LoadRecord
	if err := db.Where("area_id = ? AND timestamp = ?", 2, ts).First(&stored).Error; err != nil {
		t.Fatal(err)
	}
	if stored.LoadKW != 150 {
		t.Fatalf("expected first-written value 150 to survive, got %v", stored.LoadKW)
	}
}

func TestIngest_BatchFailureRollsBackWhole(t *testing.T) {
	db := openTestDB(t)
	ing := NewIngestor(db)
	mark := time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)
	loads := hourlyPoints(time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC), 6, 100)
	subs := []SubstationReading{{Name: "North", KW: 1200, KVAR: 300, PF: 0.97}}

	// Break the snapshot table so the batch fails after the load inserts.
	if err := db.Migrator().DropTable(&SubstationSnapshot{}); err != nil {
		t.Fatal(err)
	}
	if _, err := ing.Ingest(4, mark, loads, subs); err == nil {
		t.Fatalf("expected batch failure with snapshot table missing")
	}

	var count int64
	if err := db.Model(&LoadRecord{}).Where("area_id = ?", 4).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected 0 load rows after rollback, got %d", count)
	}

	// Restore the table; the same batch must land completely.
	if err := db.AutoMigrate(&SubstationSnapshot{}); err != nil {
		t.Fatal(err)
	}
	res, err := ing.Ingest(4, mark, loads, subs)
	if err != nil {
		t.Fatal(err)
	}
	if res.LoadInserted != 6 || res.SubInserted != 1 {
		t.Fatalf("retry pass: loads=%d subs=%d", res.LoadInserted, res.SubInserted)
	}
	if err := db.Model(&LoadRecord{}).Where("area_id = ?", 4).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 6 {
		t.Fatalf("expected all 6 rows after retry, got %d", count)
	}
}

func TestIngest_SnapshotCollisionIsAlwaysSkip(t *testing.T) {
	db := openTestDB(t)
	ing := NewIngestor(db)
	mark := time.Date(2026, 2, 7, 10, 5, 0, 0, time.UTC)

	if _, err := ing.Ingest(5, mark, nil, []SubstationReading{{Name: "East", KW: 500, KVAR: 80, PF: 0.96}}); err != nil {
		t.Fatal(err)
	}
	res, err := ing.Ingest(5, mark, nil, []SubstationReading{{Name: "East", KW: 999, KVAR: 99, PF: 0.5}})
	if err != nil {
		t.Fatal(err)
	}
	if res.SubInserted != 0 || res.SubDuplicate != 1 {
		t.Fatalf("collision: inserted=%d duplicates=%d", res.SubInserted, res.SubDuplicate)
	}

	var stored SubstationSnapshot
	err = db.Where("area_id = ? AND snapshot_time = ? AND substation_name = ?", 5, mark, "East").First(&stored).Error
	if err != nil {
		t.Fatal(err)
	}
	if stored.KW != 500 {
		t.Fatalf("expected original reading to survive, got kw=%v", stored.KW)
	}
}
