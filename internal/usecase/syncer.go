package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/naka-gawa/github-traffic/internal/domain"
	"github.com/naka-gawa/github-traffic/internal/gateway"
	"github.com/naka-gawa/github-traffic/internal/store"
	"github.com/naka-gawa/github-traffic/internal/telemetry"
)

// FailurePolicy decides what a failed repository fetch does to the rest of the cycle.
type FailurePolicy int

const (
	// PersistSuccesses merges and saves every repository that was fetched, and reports the rest.
	PersistSuccesses FailurePolicy = iota
	// AbortCycle stops at the first failure and saves nothing; Run then returns the error.
	AbortCycle
)

func (p FailurePolicy) String() string {
	switch p {
	case PersistSuccesses:
		return "persist-successes"
	case AbortCycle:
		return "abort-cycle"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy parses the String form of a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "persist-successes":
		return PersistSuccesses, nil
	case "abort-cycle":
		return AbortCycle, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q", s)
	}
}

// RepoResult is the outcome of fetching one repository during a cycle.
type RepoResult struct {
	Repo   string
	Clones *domain.TrafficWindow
	Views  *domain.TrafficWindow
	Err    error
}

// CycleReport summarizes one DoSync pass.
type CycleReport struct {
	Started  time.Time
	Duration time.Duration
	Results  []RepoResult
	Saved    bool
}

// Failed returns the results of repositories that could not be fetched.
func (r *CycleReport) Failed() []RepoResult {
	var failed []RepoResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err joins the fetch errors of the cycle, or returns nil if every repository succeeded.
func (r *CycleReport) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, res.Err)
	}
	return errors.Join(errs...)
}

// Syncer is the use case that keeps the persisted history up to date.
// Each cycle reloads the history from the store, so the store is the only state.
type Syncer struct {
	fetcher       gateway.Fetcher
	store         store.Store
	repos         []string
	logger        *slog.Logger
	clock         quartz.Clock
	failurePolicy FailurePolicy
	loadPolicy    store.CorruptionPolicy
	metrics       *telemetry.Metrics
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithClock sets the clock used for timestamps and the sleep between cycles.
func WithClock(clock quartz.Clock) SyncerOption {
	return func(s *Syncer) {
		s.clock = clock
	}
}

// WithFailurePolicy sets how a failed fetch affects the cycle.
func WithFailurePolicy(p FailurePolicy) SyncerOption {
	return func(s *Syncer) {
		s.failurePolicy = p
	}
}

// WithLoadPolicy sets how a corrupt backing file is handled at the start of a cycle.
func WithLoadPolicy(p store.CorruptionPolicy) SyncerOption {
	return func(s *Syncer) {
		s.loadPolicy = p
	}
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *telemetry.Metrics) SyncerOption {
	return func(s *Syncer) {
		s.metrics = m
	}
}

// NewSyncer creates a new Syncer. With no repos configured, every cycle
// syncs the repositories the fetcher discovers.
func NewSyncer(fetcher gateway.Fetcher, st store.Store, repos []string, logger *slog.Logger, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		fetcher:       fetcher,
		store:         st,
		repos:         repos,
		logger:        logger.With("component", "syncer"),
		clock:         quartz.NewReal(),
		failurePolicy: PersistSuccesses,
		loadPolicy:    store.IgnoreCorruption,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs a cycle, sleeps for interval, and repeats until ctx is done.
// Under AbortCycle the first failed cycle ends the loop with its error.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Info("starting sync loop", "repos", s.repos, "discovery", len(s.repos) == 0, "interval", interval, "failure_policy", s.failurePolicy)
	for {
		if _, err := s.DoSync(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.failurePolicy == AbortCycle {
				return err
			}
			s.logger.Error("sync cycle failed", "error", err)
		}

		timer := s.clock.NewTimer(interval, "syncer", "sleep")
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// DoSync runs one fetch/merge/persist cycle. Merges accumulate in memory and the
// history is saved once at the end. A repository is merged only when both of its
// windows were fetched.
func (s *Syncer) DoSync(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{Started: s.clock.Now()}
	s.logger.Debug("sync cycle started")

	history, err := s.store.LoadWithPolicy(ctx, s.loadPolicy)
	if err != nil {
		s.finish(report, telemetry.CycleFailed)
		return report, fmt.Errorf("failed to load history: %w", err)
	}

	repos, err := s.resolveRepos(ctx)
	if err != nil {
		s.finish(report, telemetry.CycleFailed)
		return report, err
	}

	var synced []string
	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			s.finish(report, telemetry.CycleFailed)
			return report, err
		}
		result := s.fetch(ctx, repo)
		report.Results = append(report.Results, result)
		if result.Err != nil {
			s.recordFailure(result)
			if s.failurePolicy == AbortCycle {
				s.finish(report, telemetry.CycleFailed)
				return report, result.Err
			}
			continue
		}
		history.Repo(repo).Merge(result.Clones, result.Views)
		synced = append(synced, repo)
	}

	failed := len(report.Results) - len(synced)
	if len(synced) == 0 && failed > 0 {
		s.logger.Warn("no repository could be fetched, skipping save", "failed", failed)
		s.finish(report, telemetry.CycleFailed)
		return report, nil
	}

	if err := s.store.Save(ctx, history); err != nil {
		s.finish(report, telemetry.CycleFailed)
		return report, fmt.Errorf("failed to persist history: %w", err)
	}
	report.Saved = true

	now := s.clock.Now()
	for _, repo := range synced {
		s.metrics.RepoSynced(repo, now, history[repo])
	}

	result := telemetry.CycleOK
	if failed > 0 {
		result = telemetry.CyclePartial
	}
	s.finish(report, result)
	s.logger.Info("sync cycle completed", "synced", len(synced), "failed", failed, "duration", report.Duration)
	return report, nil
}

func (s *Syncer) resolveRepos(ctx context.Context) ([]string, error) {
	if len(s.repos) > 0 {
		return s.repos, nil
	}
	repos, err := s.fetcher.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover repositories: %w", err)
	}
	s.logger.Debug("discovered repositories", "count", len(repos))
	return repos, nil
}

func (s *Syncer) fetch(ctx context.Context, repo string) RepoResult {
	result := RepoResult{Repo: repo}
	clones, err := s.fetcher.FetchClones(ctx, repo)
	if err != nil {
		result.Err = err
		return result
	}
	views, err := s.fetcher.FetchViews(ctx, repo)
	if err != nil {
		result.Err = err
		return result
	}
	result.Clones = clones
	result.Views = views
	return result
}

func (s *Syncer) recordFailure(result RepoResult) {
	reason := "error"
	if errors.Is(result.Err, gateway.ErrAccessForbidden) {
		reason = "forbidden"
	}
	s.metrics.RepoFailed(result.Repo, reason, s.clock.Now())

	level := slog.LevelWarn
	if s.failurePolicy == AbortCycle {
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "failed to fetch traffic", "repo", result.Repo, "reason", reason, "error", result.Err)
}

func (s *Syncer) finish(report *CycleReport, result string) {
	report.Duration = s.clock.Since(report.Started)
	s.metrics.ObserveCycle(result, report.Duration)
}
