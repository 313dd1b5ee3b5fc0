package kamo

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Server is the JSON facade over the Reader and Scheduler contracts. It is a
// thin translation layer; all behavior lives behind those two types.
type Server struct {
	reader *Reader
	sched  *Scheduler
	apiKey string
	log    *logrus.Logger
}

func NewServer(reader *Reader, sched *Scheduler, apiKey string, log *logrus.Logger) *Server {
	return &Server{reader: reader, sched: sched, apiKey: apiKey, log: log}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/imports", s.handleImports)
	mux.HandleFunc("/api/next-import", s.handleNextImport)
	mux.HandleFunc("/api/import/trigger", s.handleTrigger)
	mux.HandleFunc("/api/cooperatives", s.handleCooperatives)
	mux.HandleFunc("/api/load/current/", s.areaHandler(s.currentLoad))
	mux.HandleFunc("/api/load/history/", s.areaHandler(s.loadHistory))
	mux.HandleFunc("/api/load/peak/", s.areaHandler(s.peakLoad))
	mux.HandleFunc("/api/load/stats/", s.areaHandler(s.loadStats))
	mux.HandleFunc("/api/substations/current/", s.areaHandler(s.currentSubstations))
	mux.HandleFunc("/api/substations/history/", s.areaHandler(s.substationHistory))
	mux.HandleFunc("/api/substations/list/", s.areaHandler(s.listSubstations))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.reader.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.sched != nil {
		if next := s.sched.NextRun(); !next.IsZero() {
			st.NextRun = &next
		}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleImports(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	runs, err := s.reader.RecentRuns(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleNextImport(w http.ResponseWriter, r *http.Request) {
	var next *string
	if s.sched != nil {
		if t := s.sched.NextRun(); !t.IsZero() {
			v := t.Format(time.RFC3339)
			next = &v
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"next_import": next})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "POST required"})
		return
	}
	if s.apiKey == "" || r.Header.Get("X-API-Key") != s.apiKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid API key"})
		return
	}
	run, err := s.sched.TriggerImport()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCooperatives(w http.ResponseWriter, r *http.Request) {
	coops, err := s.reader.Cooperatives()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coops)
}

// areaHandler parses the trailing area ID shared by all per-area routes.
func (s *Server) areaHandler(fn func(w http.ResponseWriter, r *http.Request, areaID int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx := strings.LastIndex(r.URL.Path, "/")
		areaID, err := strconv.Atoi(r.URL.Path[idx+1:])
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "area id must be an integer"})
			return
		}
		fn(w, r, areaID)
	}
}

func (s *Server) currentLoad(w http.ResponseWriter, r *http.Request, areaID int) {
	cur, err := s.reader.CurrentLoad(areaID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

func (s *Server) loadHistory(w http.ResponseWriter, r *http.Request, areaID int) {
	records, err := s.reader.LoadHistory(areaID, queryInt(r, "hours", 24))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"area_id": areaID,
		"data":    records,
		"count":   len(records),
	})
}

func (s *Server) peakLoad(w http.ResponseWriter, r *http.Request, areaID int) {
	peak, err := s.reader.PeakLoad(areaID, queryInt(r, "days", 1))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, peak)
}

func (s *Server) loadStats(w http.ResponseWriter, r *http.Request, areaID int) {
	stats, err := s.reader.LoadStats(areaID, queryInt(r, "hours", 24))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) currentSubstations(w http.ResponseWriter, r *http.Request, areaID int) {
	board, err := s.reader.CurrentSubstations(areaID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) substationHistory(w http.ResponseWriter, r *http.Request, areaID int) {
	snaps, err := s.reader.SubstationHistory(areaID, queryInt(r, "hours", 24))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"area_id":   areaID,
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

func (s *Server) listSubstations(w http.ResponseWriter, r *http.Request, areaID int) {
	names, err := s.reader.ListSubstations(areaID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"area_id":     areaID,
		"substations": names,
		"count":       len(names),
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAreaNotFound), errors.Is(err, ErrNoData):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": err.Error()})
	case errors.Is(err, ErrInvalidRange):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
	case errors.Is(err, ErrImportRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"detail": err.Error()})
	default:
		s.log.WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
