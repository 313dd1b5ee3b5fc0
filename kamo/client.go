package kamo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// UpstreamClient fetches and normalizes the KAMO feeds. Implementations do no
// storage writes; side effects are limited to network I/O.
type UpstreamClient interface {
	FetchCooperatives(ctx context.Context) ([]Cooperative, error)
	FetchLoadHistory(ctx context.Context, areaID int) ([]LoadPoint, error)
	FetchSubstations(ctx context.Context, areaID int) ([]SubstationReading, error)
}

type KAMOClient struct {
	baseURL string
	httpc   *http.Client
	loc     *time.Location
	log     *logrus.Logger
}

// NewKAMOClient builds a client that parses upstream timestamps into loc.
// The timeout bounds every call; keep it well below the poll interval so a
// hung upstream cannot stall the next cycle.
func NewKAMOClient(baseURL string, timeout time.Duration, loc *time.Location, log *logrus.Logger) *KAMOClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &KAMOClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		loc:     loc,
		log:     log,
	}
}

// Wire shapes of the third-party API. Field names follow the upstream JSON.

type areaRow struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Abrev    string `json:"abrev"`
	Selected bool   `json:"selected"`
}

type chartSeries struct {
	Data  []*float64 `json:"data"`
	Label string     `json:"label"`
}

type areaGridResponse struct {
	ID              int           `json:"Id"`
	ChartLineData   []chartSeries `json:"chartLineData"`
	LineChartLabels []string      `json:"lineChartLabels"`
}

type substationRow struct {
	Name       string   `json:"name"`
	KW         float64  `json:"kw"`
	KVAR       float64  `json:"kvar"`
	PF         *float64 `json:"pf"`
	Quality    *bool    `json:"quality"`
	QualityNow *bool    `json:"qualityNow"`
}

type areaLoadTableResponse struct {
	ID           int             `json:"Id"`
	AreaLoadData []substationRow `json:"areaLoadData"`
}

func (c *KAMOClient) getJSON(ctx context.Context, endpoint string, out any) error {
	url := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrUpstreamUnavailable, endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrUpstreamUnavailable, endpoint, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.log.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"raw":      truncateRaw(body, 512),
		}).Warn("malformed upstream payload")
		return fmt.Errorf("%w: %s: %v", ErrUpstreamMalformed, endpoint, err)
	}
	return nil
}

func truncateRaw(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func (c *KAMOClient) FetchCooperatives(ctx context.Context) ([]Cooperative, error) {
	var rows []areaRow
	if err := c.getJSON(ctx, "/area", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrUpstreamEmpty
	}
	coops := make([]Cooperative, 0, len(rows))
	for _, r := range rows {
		coops = append(coops, Cooperative{
			ID:           r.ID,
			Name:         r.Name,
			Abbreviation: r.Abrev,
			IsAggregate:  aggregateAreaIDs[r.ID],
		})
	}
	sort.Slice(coops, func(i, j int) bool { return coops[i].ID < coops[j].ID })
	return coops, nil
}

// FetchLoadHistory returns the "Actual" series of the area grid feed as
// hourly points in the configured zone, oldest first. The feed controls its
// own lookback window (roughly the trailing 12 hours).
func (c *KAMOClient) FetchLoadHistory(ctx context.Context, areaID int) ([]LoadPoint, error) {
	var resp areaGridResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/areagrid/%d", areaID), &resp); err != nil {
		return nil, err
	}

	var actual *chartSeries
	for i := range resp.ChartLineData {
		if strings.EqualFold(resp.ChartLineData[i].Label, "actual") {
			actual = &resp.ChartLineData[i]
			break
		}
	}
	if actual == nil {
		return nil, fmt.Errorf("%w: areagrid/%d has no actual series", ErrUpstreamMalformed, areaID)
	}

	points := make([]LoadPoint, 0, len(actual.Data))
	for i, v := range actual.Data {
		if v == nil || i >= len(resp.LineChartLabels) {
			continue
		}
		ts, ok := c.parseLabel(resp.LineChartLabels[i])
		if !ok {
			c.log.WithFields(logrus.Fields{
				"area":  areaID,
				"label": resp.LineChartLabels[i],
			}).Warn("unparseable timestamp label")
			continue
		}
		points = append(points, LoadPoint{Timestamp: ts, LoadKW: *v})
	}
	if len(points) == 0 {
		return nil, ErrUpstreamEmpty
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points, nil
}

// FetchSubstations returns the current substation readings for an area. A
// missing power factor becomes PFUnknown rather than dropping the row.
func (c *KAMOClient) FetchSubstations(ctx context.Context, areaID int) ([]SubstationReading, error) {
	var resp areaLoadTableResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/arealoadtable/%d", areaID), &resp); err != nil {
		return nil, err
	}
	if len(resp.AreaLoadData) == 0 {
		return nil, ErrUpstreamEmpty
	}
	readings := make([]SubstationReading, 0, len(resp.AreaLoadData))
	for _, row := range resp.AreaLoadData {
		pf := PFUnknown
		if row.PF != nil {
			pf = *row.PF
		}
		readings = append(readings, SubstationReading{
			Name:       row.Name,
			KW:         row.KW,
			KVAR:       row.KVAR,
			PF:         pf,
			Quality:    row.Quality,
			QualityNow: row.QualityNow,
		})
	}
	return readings, nil
}

// Labels look like "MM/DD/YYYY H:00", with or without zero padding. They carry
// no zone; interpret them in the configured storage zone here at the boundary
// so nothing downstream depends on the host zone.
func (c *KAMOClient) parseLabel(label string) (time.Time, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return time.Time{}, false
	}
	layouts := []string{
		"1/2/2006 15:04",
		"01/02/2006 15:04",
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, label, c.loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
