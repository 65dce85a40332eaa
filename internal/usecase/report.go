// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/github-traffic/internal/domain"
	"github.com/naka-gawa/github-traffic/internal/store"
)

// Reporter is the use case for summarizing the persisted history.
type Reporter struct {
	store  store.Store
	logger *slog.Logger
}

// NewReporter creates a new Reporter instance.
func NewReporter(st store.Store, logger *slog.Logger) *Reporter {
	return &Reporter{
		store:  st,
		logger: logger.With("component", "reporter"),
	}
}

// Report loads the history and summarizes it. Load errors are returned as is.
func (r *Reporter) Report(ctx context.Context) ([]*domain.RepoSummary, error) {
	r.logger.Debug("loading history for report")
	history, err := r.store.LoadWithPolicy(ctx, store.SurfaceCorruption)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	summaries := Summarize(history)
	r.logger.Debug("report complete", "repos", len(summaries))
	return summaries, nil
}

// Summarize computes per-repository statistics, sorted by repository name for consistent output.
func Summarize(history domain.History) []*domain.RepoSummary {
	summaries := make([]*domain.RepoSummary, 0, len(history))
	for name, rt := range history {
		if rt == nil {
			continue
		}
		summaries = append(summaries, &domain.RepoSummary{
			Name:   name,
			Clones: summarizeSeries(rt.Clones),
			Views:  summarizeSeries(rt.Views),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})
	return summaries
}

func summarizeSeries(points []domain.TrafficPoint) domain.MetricSummary {
	if len(points) == 0 {
		return domain.MetricSummary{}
	}
	counts := make(stats.Float64Data, 0, len(points))
	uniques := make(stats.Float64Data, 0, len(points))
	for _, p := range points {
		counts = append(counts, float64(p.Count))
		uniques = append(uniques, float64(p.Uniques))
	}

	// Errors are only returned for empty input, which is excluded above.
	total, _ := stats.Sum(counts)
	totalUniques, _ := stats.Sum(uniques)
	mean, _ := stats.Mean(counts)
	median, _ := stats.Median(counts)
	p90, _ := stats.Percentile(counts, 90)
	maxCount, _ := stats.Max(counts)
	mean, _ = stats.Round(mean, 2)

	return domain.MetricSummary{
		Days:         len(points),
		FirstDay:     points[0].Timestamp.Format("2006-01-02"),
		LastDay:      points[len(points)-1].Timestamp.Format("2006-01-02"),
		Total:        int(total),
		TotalUniques: int(totalUniques),
		Mean:         mean,
		Median:       median,
		P90:          p90,
		Max:          int(maxCount),
	}
}
