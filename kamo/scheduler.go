package kamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SchedulerConfig struct {
	IntervalMinutes int
	// CallTimeout bounds each upstream call. Must stay below the interval
	// so a hung upstream cannot push one cycle into the next.
	CallTimeout time.Duration
	Location    *time.Location
	// FallbackAreas seeds the area list when the /area feed is down and the
	// local cooperative cache is still empty.
	FallbackAreas []int
}

// Scheduler drives the recurring import cycle at aligned wall-clock instants.
// It owns no ambient state: construct one per process (or per test) with an
// injectable clock and fakes for the client and notifier.
type Scheduler struct {
	cfg      SchedulerConfig
	db       *gorm.DB
	client   UpstreamClient
	ingestor *Ingestor
	notifier Notifier
	log      *logrus.Logger

	now   func() time.Time
	runMu sync.Mutex // only one cycle at a time, scheduled or manual

	mu      sync.Mutex
	nextRun time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig, db *gorm.DB, client UpstreamClient, ingestor *Ingestor, notifier Notifier, log *logrus.Logger) (*Scheduler, error) {
	if !ValidInterval(cfg.IntervalMinutes) {
		return nil, fmt.Errorf("interval %d minutes is not an allowed divisor of 60", cfg.IntervalMinutes)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.CallTimeout >= time.Duration(cfg.IntervalMinutes)*time.Minute {
		return nil, fmt.Errorf("call timeout %s must be shorter than the %dm poll interval", cfg.CallTimeout, cfg.IntervalMinutes)
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Scheduler{
		cfg:      cfg,
		db:       db,
		client:   client,
		ingestor: ingestor,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		stop:     make(chan struct{}),
	}, nil
}

// Start launches the recurring loop. Stop waits for an in-flight cycle.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// NextRun reports the next aligned instant the loop will fire at. Zero until
// Start.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		now := s.now().In(s.cfg.Location)
		next, err := NextPollTime(now, s.cfg.IntervalMinutes)
		if err != nil {
			// Interval was validated at construction; this cannot happen.
			s.log.WithError(err).Error("schedule computation failed")
			return
		}
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.runCycle(TriggerScheduled); err != nil {
				if errors.Is(err, ErrImportRunning) {
					// A manual import is mid-flight; its results cover
					// this instant.
					s.log.Info("skipping scheduled cycle, manual import in progress")
					continue
				}
				s.log.WithError(err).Error("scheduled import cycle failed")
			}
		}
	}
}

// TriggerImport runs one cycle out-of-band. It does not reset the recurring
// schedule. Returns ErrImportRunning when a cycle is already executing:
// manual triggers are rejected, never queued.
func (s *Scheduler) TriggerImport() (*ImportRun, error) {
	return s.runCycle(TriggerManual)
}

func (s *Scheduler) runCycle(trigger string) (*ImportRun, error) {
	if !s.runMu.TryLock() {
		return nil, ErrImportRunning
	}
	defer s.runMu.Unlock()

	start := s.now().In(s.cfg.Location)
	run := &ImportRun{StartedAt: start, Status: RunStatusRunning, Trigger: trigger}
	if err := s.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("create import run: %w", err)
	}

	areas := s.syncCooperatives()
	mark := SnapshotMark(start, s.cfg.IntervalMinutes)

	results := make([]AreaResult, 0, len(areas))
	for _, area := range areas {
		ar := s.importArea(area, mark)
		results = append(results, ar)
		run.LoadImported += ar.LoadImported
		run.LoadSkipped += ar.LoadSkipped
		run.SubImported += ar.SubImported
		run.SubSkipped += ar.SubSkipped
		if ar.Error == "" {
			run.AreasOK++
		} else {
			run.AreasFailed++
		}
	}

	switch {
	case len(areas) == 0:
		run.Status = RunStatusFailed
		run.ErrorMessage = "no areas available to poll"
	case run.AreasFailed == 0:
		run.Status = RunStatusSuccess
	case run.AreasOK == 0:
		run.Status = RunStatusFailed
	default:
		run.Status = RunStatusPartial
	}

	end := s.now().In(s.cfg.Location)
	run.CompletedAt = &end
	run.DurationSeconds = end.Sub(start).Seconds()
	if b, err := json.Marshal(results); err == nil {
		run.AreaResults = string(b)
	}

	// Single finalizing write; the row is never touched again.
	if err := s.db.Model(run).Updates(map[string]any{
		"completed_at":     run.CompletedAt,
		"status":           run.Status,
		"load_imported":    run.LoadImported,
		"load_skipped":     run.LoadSkipped,
		"sub_imported":     run.SubImported,
		"sub_skipped":      run.SubSkipped,
		"areas_ok":         run.AreasOK,
		"areas_failed":     run.AreasFailed,
		"area_results":     run.AreaResults,
		"error_message":    run.ErrorMessage,
		"duration_seconds": run.DurationSeconds,
	}).Error; err != nil {
		s.log.WithError(err).Error("finalize import run")
	}

	s.log.WithFields(logrus.Fields{
		"status":        run.Status,
		"trigger":       trigger,
		"load_imported": run.LoadImported,
		"load_skipped":  run.LoadSkipped,
		"sub_imported":  run.SubImported,
		"sub_skipped":   run.SubSkipped,
		"areas_failed":  run.AreasFailed,
		"elapsed":       end.Sub(start),
	}).Info("import cycle finished")

	if run.Status == RunStatusPartial || run.Status == RunStatusFailed {
		if err := s.notifier.NotifyImportFailure(run, results); err != nil {
			s.log.WithError(err).Warn("failure notification not delivered")
		}
	}
	return run, nil
}

// importArea fetches and ingests one area. Every failure is trapped here so
// one area never prevents the rest of the cycle from being attempted, and
// nothing can take the scheduler loop down.
func (s *Scheduler) importArea(area Cooperative, mark time.Time) AreaResult {
	ar := AreaResult{AreaID: area.ID}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()

	loads, err := s.client.FetchLoadHistory(ctx, area.ID)
	if err != nil && !errors.Is(err, ErrUpstreamEmpty) {
		ar.Error = err.Error()
		s.log.WithError(err).WithField("area", area.ID).Warn("load history fetch failed")
		return ar
	}

	var subs []SubstationReading
	if !area.IsAggregate {
		subs, err = s.client.FetchSubstations(ctx, area.ID)
		if err != nil && !errors.Is(err, ErrUpstreamEmpty) {
			ar.Error = err.Error()
			s.log.WithError(err).WithField("area", area.ID).Warn("substation fetch failed")
			return ar
		}
	}

	res, err := s.ingestor.Ingest(area.ID, mark, loads, subs)
	if err != nil {
		// The batch rolled back whole; mark the area failed for this cycle.
		ar.Error = err.Error()
		s.log.WithError(err).WithField("area", area.ID).Error("batch write failed")
		return ar
	}
	ar.LoadImported = res.LoadInserted
	ar.LoadSkipped = res.LoadDuplicate
	ar.SubImported = res.SubInserted
	ar.SubSkipped = res.SubDuplicate
	return ar
}

// syncCooperatives refreshes the cached area list from the /area feed. When
// the feed is unreachable it falls back to the cache, then to the configured
// area IDs.
func (s *Scheduler) syncCooperatives() []Cooperative {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()

	coops, err := s.client.FetchCooperatives(ctx)
	if err == nil {
		for i := range coops {
			if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&coops[i]).Error; err != nil {
				s.log.WithError(err).WithField("area", coops[i].ID).Warn("cooperative upsert failed")
			}
		}
		return coops
	}
	s.log.WithError(err).Warn("cooperative sync failed, using cached list")

	var cached []Cooperative
	if err := s.db.Order("id asc").Find(&cached).Error; err == nil && len(cached) > 0 {
		return cached
	}
	fallback := make([]Cooperative, 0, len(s.cfg.FallbackAreas))
	for _, id := range s.cfg.FallbackAreas {
		fallback = append(fallback, Cooperative{
			ID:          id,
			Name:        fmt.Sprintf("Area %d", id),
			IsAggregate: aggregateAreaIDs[id],
		})
	}
	return fallback
}
