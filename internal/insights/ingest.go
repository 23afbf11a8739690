// Package insights accepts client performance metric batches, skips malformed
// records, and answers with computed aggregates.
package insights

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Record is one client-side performance measurement. Fields decode through
// pointers so a missing field is distinguishable from a zero value.
type Record struct {
	Operation *string  `json:"operation"`
	Key       *string  `json:"key"`
	Duration  *float64 `json:"duration"`
	Success   *bool    `json:"success"`
	Timestamp *int64   `json:"timestamp"`
}

// Valid reports whether every required field is present. Operation and key
// must also be non-empty.
func (r Record) Valid() bool {
	if r.Operation == nil || *r.Operation == "" {
		return false
	}
	if r.Key == nil || *r.Key == "" {
		return false
	}
	return r.Duration != nil && r.Success != nil && r.Timestamp != nil
}

// HourBucket aggregates the records submitted within one hour-of-day.
type HourBucket struct {
	Hour            int     `json:"hour"`
	Count           int     `json:"count"`
	AverageDuration float64 `json:"averageDuration"`
}

// Summary holds the aggregates computed over one accepted batch.
type Summary struct {
	AverageDuration float64      `json:"averageDuration"`
	SuccessRate     float64      `json:"successRate"`
	HourlyTrend     []HourBucket `json:"hourlyTrend"`
	Recommendations []string     `json:"recommendations"`
}

// Response is the ingest endpoint's reply. Processed counts only the valid
// records, so callers can detect partial acceptance.
type Response struct {
	Processed int       `json:"processed"`
	Insights  Summary   `json:"insights"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler serves the metrics ingest endpoint.
type Handler struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger: logger.With(slog.String("agent", "insights")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var batch []Record
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "invalid metrics payload", http.StatusBadRequest)
		return
	}

	valid := make([]Record, 0, len(batch))
	for _, record := range batch {
		if record.Valid() {
			valid = append(valid, record)
		}
	}
	if skipped := len(batch) - len(valid); skipped > 0 {
		h.logger.Warn("malformed metric records skipped", slog.Int("skipped", skipped), slog.Int("submitted", len(batch)))
	}

	response := Response{
		Processed: len(valid),
		Insights:  Summarize(valid),
		Timestamp: h.now(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("encode insights response failed", slog.Any("error", err))
	}
}

// Summarize computes batch aggregates: mean duration, success rate, per-hour
// trend buckets, and textual recommendations.
func Summarize(records []Record) Summary {
	summary := Summary{Recommendations: []string{}}
	if len(records) == 0 {
		summary.HourlyTrend = []HourBucket{}
		return summary
	}

	var totalDuration float64
	successes := 0
	type hourAgg struct {
		count    int
		duration float64
	}
	hours := make(map[int]*hourAgg)
	slowest := records[0]

	for _, record := range records {
		totalDuration += *record.Duration
		if *record.Success {
			successes++
		}
		hour := time.UnixMilli(*record.Timestamp).UTC().Hour()
		agg, ok := hours[hour]
		if !ok {
			agg = &hourAgg{}
			hours[hour] = agg
		}
		agg.count++
		agg.duration += *record.Duration
		if *record.Duration > *slowest.Duration {
			slowest = record
		}
	}

	summary.AverageDuration = totalDuration / float64(len(records))
	summary.SuccessRate = float64(successes) / float64(len(records))

	summary.HourlyTrend = make([]HourBucket, 0, len(hours))
	for hour, agg := range hours {
		summary.HourlyTrend = append(summary.HourlyTrend, HourBucket{
			Hour:            hour,
			Count:           agg.count,
			AverageDuration: agg.duration / float64(agg.count),
		})
	}
	sort.Slice(summary.HourlyTrend, func(i, j int) bool {
		return summary.HourlyTrend[i].Hour < summary.HourlyTrend[j].Hour
	})

	if summary.SuccessRate < 0.9 {
		summary.Recommendations = append(summary.Recommendations,
			fmt.Sprintf("success rate %.0f%% is below 90%%; investigate failing operations", summary.SuccessRate*100))
	}
	if summary.AverageDuration > 1000 {
		summary.Recommendations = append(summary.Recommendations,
			"average operation duration exceeds 1s; consider caching or precomputation")
	}
	if *slowest.Duration > 2*summary.AverageDuration && len(records) > 1 {
		summary.Recommendations = append(summary.Recommendations,
			fmt.Sprintf("operation %q dominates the batch at %.0fms", *slowest.Operation, *slowest.Duration))
	}
	return summary
}
