// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// MetricKind names one of the two traffic series GitHub reports per repository.
type MetricKind string

const (
	MetricClones MetricKind = "clones"
	MetricViews  MetricKind = "views"
)

// TrafficPoint is one day's total and unique count for a single metric kind.
type TrafficPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
	Uniques   int       `json:"uniques"`
}

// UnmarshalJSON accepts the timestamp either as RFC 3339 or as a bare 2006-01-02 date and
// normalises it to its calendar day.
func (p *TrafficPoint) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp string `json:"timestamp"`
		Count     int    `json:"count"`
		Uniques   int    `json:"uniques"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := ParseDay(raw.Timestamp)
	if err != nil {
		return err
	}
	*p = TrafficPoint{Timestamp: ts, Count: raw.Count, Uniques: raw.Uniques}
	return nil
}

// TrafficWindow is the rolling window of daily samples returned by the remote API.
type TrafficWindow struct {
	Count   int            `json:"count"`
	Uniques int            `json:"uniques"`
	Items   []TrafficPoint `json:"items"`
}

// RepoTraffic holds the accumulated daily history of a single repository.
// Both sequences are sorted strictly ascending by Timestamp.
type RepoTraffic struct {
	Clones []TrafficPoint `json:"clones"`
	Views  []TrafficPoint `json:"views"`
}

// History maps a repository identifier (owner/name) to its accumulated traffic.
type History map[string]*RepoTraffic

// Day truncates t to the calendar day it falls on, in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses an RFC 3339 timestamp or a 2006-01-02 date into its calendar day.
func ParseDay(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Day(t), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

// NewTrafficPoint builds a point whose timestamp is normalised to its calendar day.
func NewTrafficPoint(ts time.Time, count, uniques int) TrafficPoint {
	return TrafficPoint{Timestamp: Day(ts), Count: count, Uniques: uniques}
}

// Series returns the sequence for the given metric kind.
func (r *RepoTraffic) Series(kind MetricKind) []TrafficPoint {
	if kind == MetricViews {
		return r.Views
	}
	return r.Clones
}

// Merge folds freshly fetched windows into the repository's history.
func (r *RepoTraffic) Merge(clones, views *TrafficWindow) {
	if clones != nil {
		r.Clones = Upsert(r.Clones, clones.Items)
	}
	if views != nil {
		r.Views = Upsert(r.Views, views.Items)
	}
	r.normalize()
}

// normalize replaces nil sequences with empty ones so they encode as [] rather than null.
func (r *RepoTraffic) normalize() {
	if r.Clones == nil {
		r.Clones = []TrafficPoint{}
	}
	if r.Views == nil {
		r.Views = []TrafficPoint{}
	}
}

// Validate reports the first ordering or uniqueness violation in the repository's sequences.
func (r *RepoTraffic) Validate() error {
	if err := Validate(r.Clones); err != nil {
		return fmt.Errorf("clones: %w", err)
	}
	if err := Validate(r.Views); err != nil {
		return fmt.Errorf("views: %w", err)
	}
	return nil
}

// Repo returns the history entry for repo, creating an empty one if it does not exist yet.
func (h History) Repo(repo string) *RepoTraffic {
	rt, ok := h[repo]
	if !ok || rt == nil {
		rt = &RepoTraffic{}
		rt.normalize()
		h[repo] = rt
	}
	return rt
}

// Normalize makes every entry non-nil with non-nil sequences.
func (h History) Normalize() {
	for repo := range h {
		h.Repo(repo).normalize()
	}
}

// Repair sorts and deduplicates every sequence that is out of order and returns the
// affected repositories, sorted.
func (h History) Repair() []string {
	var repaired []string
	for repo, rt := range h {
		if rt == nil || rt.Validate() == nil {
			continue
		}
		rt.Clones = Repair(rt.Clones)
		rt.Views = Repair(rt.Views)
		repaired = append(repaired, repo)
	}
	slices.Sort(repaired)
	return repaired
}

// SplitRepo splits an owner/name identifier into its two parts.
func SplitRepo(repo string) (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
}
