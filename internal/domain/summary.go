package domain

// MetricSummary describes the distribution of daily counts for one metric kind.
type MetricSummary struct {
	Days         int     `json:"days"`
	FirstDay     string  `json:"first_day,omitempty"`
	LastDay      string  `json:"last_day,omitempty"`
	Total        int     `json:"total"`
	TotalUniques int     `json:"total_uniques"`
	Mean         float64 `json:"mean"`
	Median       float64 `json:"median"`
	P90          float64 `json:"p90"`
	Max          int     `json:"max"`
}

// RepoSummary is the per-repository report entry.
type RepoSummary struct {
	Name   string        `json:"name"`
	Clones MetricSummary `json:"clones"`
	Views  MetricSummary `json:"views"`
}
