package optimizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// JSONLReporter appends OptimizerMetrics records as newline-delimited
// JSON to date-partitioned files under baseDir/logDir.
type JSONLReporter struct {
	baseDir string
	logDir  string
	log     zerolog.Logger
}

// NewJSONLReporter constructs a reporter writing under
// <baseDir>/<logDir>/YYYY-MM-DD.jsonl.
func NewJSONLReporter(baseDir, logDir string, log zerolog.Logger) *JSONLReporter {
	return &JSONLReporter{baseDir: baseDir, logDir: logDir, log: log}
}

func (r *JSONLReporter) dir() string {
	return filepath.Join(r.baseDir, r.logDir)
}

func dateOf(timestamp string) string {
	if idx := strings.Index(timestamp, "T"); idx >= 0 {
		return timestamp[:idx]
	}
	return timestamp
}

// WriteMetrics groups batch by date (taken from each record's
// timestamp) and appends each group to its date file, creating
// directories as needed.
func (r *JSONLReporter) WriteMetrics(batch []OptimizerMetrics) error {
	if len(batch) == 0 {
		return nil
	}

	byDate := make(map[string][]OptimizerMetrics)
	for _, m := range batch {
		d := dateOf(m.Timestamp)
		byDate[d] = append(byDate[d], m)
	}

	if err := os.MkdirAll(r.dir(), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}

	for date, records := range byDate {
		path := filepath.Join(r.dir(), date+".jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open metrics file %s: %w", path, err)
		}
		w := bufio.NewWriter(f)
		for _, rec := range records {
			line, err := json.Marshal(rec)
			if err != nil {
				f.Close()
				return fmt.Errorf("marshal metrics record: %w", err)
			}
			w.Write(line)
			w.WriteByte('\n')
		}
		if err := w.Flush(); err != nil {
			f.Close()
			return fmt.Errorf("flush metrics file %s: %w", path, err)
		}
		f.Close()
	}
	return nil
}

// ReadMetricsForDate reads all records for a given date (YYYY-MM-DD),
// returning an empty slice when the file is missing or fails to parse.
func (r *JSONLReporter) ReadMetricsForDate(date string) []OptimizerMetrics {
	path := filepath.Join(r.dir(), date+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		return []OptimizerMetrics{}
	}
	defer f.Close()

	var out []OptimizerMetrics
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var m OptimizerMetrics
		if err := json.Unmarshal(line, &m); err != nil {
			r.log.Error().Err(err).Str("date", date).Msg("failed to parse metrics line")
			return []OptimizerMetrics{}
		}
		out = append(out, m)
	}
	if out == nil {
		out = []OptimizerMetrics{}
	}
	return out
}

// GetAvailableDates lists dates with a metrics file, newest first.
func (r *JSONLReporter) GetAvailableDates() []string {
	entries, err := os.ReadDir(r.dir())
	if err != nil {
		return []string{}
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		dates = append(dates, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}

// Report is the aggregate view returned by GenerateReport.
type Report struct {
	StartDate             string
	EndDate               string
	TotalRequests         int
	TotalTokensSaved      int
	TotalCostSaved        float64
	AverageSavingsPercent float64
	TopSavings            []OptimizerMetrics
}

// GenerateReport reads the inclusive [start, end] date range and
// aggregates totals, a per-request-equal-weight average savings
// percent, and the top 5 requests saving over 1000 tokens.
func (r *JSONLReporter) GenerateReport(start, end string) Report {
	report := Report{StartDate: start, EndDate: end}

	var all []OptimizerMetrics
	for _, date := range r.GetAvailableDates() {
		if date < start || date > end {
			continue
		}
		all = append(all, r.ReadMetricsForDate(date)...)
	}

	var savingsPercentSum float64
	var savingsPercentCount int
	var bigSavers []OptimizerMetrics

	for _, m := range all {
		report.TotalRequests++
		report.TotalTokensSaved += m.TokensSaved
		report.TotalCostSaved += m.EstimatedCostSaved

		if m.OriginalTokenEstimate > 0 {
			pct := float64(m.TokensSaved) / float64(m.OriginalTokenEstimate) * 100
			savingsPercentSum += pct
			savingsPercentCount++
		}
		if m.TokensSaved > 1000 {
			bigSavers = append(bigSavers, m)
		}
	}

	if savingsPercentCount > 0 {
		report.AverageSavingsPercent = savingsPercentSum / float64(savingsPercentCount)
	}

	sort.Slice(bigSavers, func(i, j int) bool {
		return bigSavers[i].TokensSaved > bigSavers[j].TokensSaved
	})
	if len(bigSavers) > 5 {
		bigSavers = bigSavers[:5]
	}
	report.TopSavings = bigSavers

	return report
}
