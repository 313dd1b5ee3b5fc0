package kamo

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"
)

// Notifier receives the ImportRun summary of every partial or failed cycle.
type Notifier interface {
	NotifyImportFailure(run *ImportRun, areas []AreaResult) error
}

// NopNotifier is used when no notification transport is configured.
type NopNotifier struct{}

func (NopNotifier) NotifyImportFailure(*ImportRun, []AreaResult) error { return nil }

// importAlert is the wire payload shared by all notifier transports.
type importAlert struct {
	Status          string       `json:"status"`
	Trigger         string       `json:"trigger"`
	StartedAt       string       `json:"started_at"`
	CompletedAt     string       `json:"completed_at,omitempty"`
	DurationSeconds float64      `json:"duration_seconds"`
	LoadImported    int          `json:"load_imported"`
	LoadSkipped     int          `json:"load_skipped"`
	SubImported     int          `json:"sub_imported"`
	SubSkipped      int          `json:"sub_skipped"`
	AreasOK         int          `json:"areas_ok"`
	AreasFailed     int          `json:"areas_failed"`
	Error           string       `json:"error,omitempty"`
	Areas           []AreaResult `json:"areas"`
}

func buildImportAlert(run *ImportRun, areas []AreaResult) importAlert {
	alert := importAlert{
		Status:          run.Status,
		Trigger:         run.Trigger,
		StartedAt:       run.StartedAt.Format(time.RFC3339),
		DurationSeconds: run.DurationSeconds,
		LoadImported:    run.LoadImported,
		LoadSkipped:     run.LoadSkipped,
		SubImported:     run.SubImported,
		SubSkipped:      run.SubSkipped,
		AreasOK:         run.AreasOK,
		AreasFailed:     run.AreasFailed,
		Error:           run.ErrorMessage,
		Areas:           areas,
	}
	if run.CompletedAt != nil {
		alert.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return alert
}

// SyslogNotifier sends the summary as one RFC5424 line over TCP, with
// structured-data labels for routing in the log pipeline.
type SyslogNotifier struct {
	addr    string
	timeout time.Duration
}

func NewSyslogNotifier(addr string, timeout time.Duration) *SyslogNotifier {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &SyslogNotifier{addr: addr, timeout: timeout}
}

func (n *SyslogNotifier) NotifyImportFailure(run *ImportRun, areas []AreaResult) error {
	alert := buildImportAlert(run, areas)
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	structured := buildStructuredData("kamo", map[string]string{
		"job":          "kamo-import",
		"status":       run.Status,
		"trigger":      run.Trigger,
		"areas_failed": fmt.Sprintf("%d", run.AreasFailed),
	})

	conn, err := net.DialTimeout("tcp", n.addr, n.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(n.timeout))

	host, _ := os.Hostname()
	if host == "" {
		host = "-"
	}
	pri := 134 // local0.info
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	line := fmt.Sprintf("<%d>1 %s %s %s - - %s %s\n", pri, ts, sanitizeSyslogToken(host), "kamo-load-logger", structured, strings.TrimSpace(string(payload)))

	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(line); err != nil {
		return err
	}
	return w.Flush()
}

func buildStructuredData(sdID string, kv map[string]string) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(sdID)
	preferredOrder := []string{"job", "status", "trigger", "areas_failed"}
	seen := make(map[string]struct{}, len(kv))
	for _, k := range preferredOrder {
		v, ok := kv[k]
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		seen[k] = struct{}{}
		writeSDParam(&b, k, v)
	}
	extraKeys := make([]string, 0, len(kv))
	for k, v := range kv {
		if _, ok := seen[k]; ok {
			continue
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		writeSDParam(&b, k, kv[k])
	}
	b.WriteString("]")
	return b.String()
}

func writeSDParam(b *strings.Builder, k, v string) {
	b.WriteString(" ")
	b.WriteString(k)
	b.WriteString("=\"")
	b.WriteString(escapeSDParam(v))
	b.WriteString("\"")
}

func escapeSDParam(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "]", "\\]")
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	return v
}

func sanitizeSyslogToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, " ", "_")
}
