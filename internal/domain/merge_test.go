package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, time.March, n, 0, 0, 0, 0, time.UTC)
}

func pt(n, count, uniques int) TrafficPoint {
	return TrafficPoint{Timestamp: day(n), Count: count, Uniques: uniques}
}

func TestUpsert(t *testing.T) {
	testCases := []struct {
		name     string
		target   []TrafficPoint
		incoming []TrafficPoint
		expected []TrafficPoint
	}{
		{
			name:     "empty target takes incoming as given",
			target:   nil,
			incoming: []TrafficPoint{pt(3, 1, 1), pt(1, 2, 2)},
			expected: []TrafficPoint{pt(3, 1, 1), pt(1, 2, 2)},
		},
		{
			name:     "empty incoming leaves target unchanged",
			target:   []TrafficPoint{pt(1, 1, 1), pt(2, 2, 2)},
			incoming: nil,
			expected: []TrafficPoint{pt(1, 1, 1), pt(2, 2, 2)},
		},
		{
			name:     "same day is overwritten by the fetched value",
			target:   []TrafficPoint{pt(1, 5, 4)},
			incoming: []TrafficPoint{pt(1, 9, 7)},
			expected: []TrafficPoint{pt(1, 9, 7)},
		},
		{
			name:     "lower fetched value still wins",
			target:   []TrafficPoint{pt(1, 9, 7)},
			incoming: []TrafficPoint{pt(1, 2, 1)},
			expected: []TrafficPoint{pt(1, 2, 1)},
		},
		{
			name:     "later days are appended",
			target:   []TrafficPoint{pt(1, 1, 1)},
			incoming: []TrafficPoint{pt(2, 2, 2), pt(3, 3, 3)},
			expected: []TrafficPoint{pt(1, 1, 1), pt(2, 2, 2), pt(3, 3, 3)},
		},
		{
			name:     "earlier and middle days are inserted in order",
			target:   []TrafficPoint{pt(2, 2, 2), pt(5, 5, 5)},
			incoming: []TrafficPoint{pt(1, 1, 1), pt(3, 3, 3), pt(4, 4, 4)},
			expected: []TrafficPoint{pt(1, 1, 1), pt(2, 2, 2), pt(3, 3, 3), pt(4, 4, 4), pt(5, 5, 5)},
		},
		{
			name:     "duplicate day inside incoming resolves to the last occurrence",
			target:   []TrafficPoint{pt(1, 1, 1)},
			incoming: []TrafficPoint{pt(2, 3, 3), pt(2, 8, 6)},
			expected: []TrafficPoint{pt(1, 1, 1), pt(2, 8, 6)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Upsert(tc.target, tc.incoming)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	window := []TrafficPoint{pt(2, 4, 2), pt(3, 6, 3), pt(4, 1, 1)}
	base := []TrafficPoint{pt(1, 1, 1), pt(3, 2, 2)}

	once := Upsert(append([]TrafficPoint{}, base...), window)
	twice := Upsert(Upsert(append([]TrafficPoint{}, base...), window), window)

	assert.Equal(t, once, twice)
}

func TestUpsert_OrderIndependent(t *testing.T) {
	base := []TrafficPoint{pt(5, 5, 5)}
	permutations := [][]TrafficPoint{
		{pt(1, 1, 1), pt(3, 3, 3), pt(7, 7, 7)},
		{pt(7, 7, 7), pt(3, 3, 3), pt(1, 1, 1)},
		{pt(3, 3, 3), pt(7, 7, 7), pt(1, 1, 1)},
		{pt(3, 3, 3), pt(1, 1, 1), pt(7, 7, 7)},
	}
	expected := []TrafficPoint{pt(1, 1, 1), pt(3, 3, 3), pt(5, 5, 5), pt(7, 7, 7)}

	for _, incoming := range permutations {
		result := Upsert(append([]TrafficPoint{}, base...), incoming)
		assert.Equal(t, expected, result)
		assert.NoError(t, Validate(result))
	}
}

func TestUpsert_KeepsInvariantsAcrossRollingWindows(t *testing.T) {
	var history []TrafficPoint
	// Slide a 14-day window forward one day at a time, revising every value on each fetch.
	for start := 1; start <= 10; start++ {
		window := make([]TrafficPoint, 0, 14)
		for d := start; d < start+14; d++ {
			window = append(window, pt(d, start*100+d, start))
		}
		history = Upsert(history, window)
		require.NoError(t, Validate(history))
	}

	require.Len(t, history, 23)
	assert.Equal(t, pt(1, 101, 1), history[0])
	// Day 10 was last fetched by the window starting on day 10.
	assert.Equal(t, pt(10, 1010, 10), history[9])
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate([]TrafficPoint{pt(1, 1, 1), pt(2, 1, 1)}))

	err := Validate([]TrafficPoint{pt(1, 1, 1), pt(1, 2, 2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate timestamp")

	err = Validate([]TrafficPoint{pt(2, 1, 1), pt(1, 2, 2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of order")
}

func TestRepoTraffic_Merge(t *testing.T) {
	rt := &RepoTraffic{Clones: []TrafficPoint{pt(1, 3, 2)}}

	rt.Merge(&TrafficWindow{Count: 6, Uniques: 4, Items: []TrafficPoint{pt(1, 5, 3), pt(2, 1, 1)}}, nil)

	assert.Equal(t, []TrafficPoint{pt(1, 5, 3), pt(2, 1, 1)}, rt.Clones)
	assert.NotNil(t, rt.Views)
	assert.Empty(t, rt.Views)
}

func TestHistory_JSONShape(t *testing.T) {
	h := History{}
	h.Repo("octo/repo").Merge(&TrafficWindow{Items: []TrafficPoint{pt(1, 3, 2)}}, nil)

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.JSONEq(t, `{"octo/repo":{"clones":[{"timestamp":"2024-03-01T00:00:00Z","count":3,"uniques":2}],"views":[]}}`, string(data))

	var decoded History
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, h, decoded)
}

func TestRepair(t *testing.T) {
	testCases := []struct {
		name     string
		points   []TrafficPoint
		expected []TrafficPoint
	}{
		{name: "nil input", points: nil, expected: []TrafficPoint{}},
		{name: "already valid", points: []TrafficPoint{pt(1, 1, 1), pt(2, 2, 2)}, expected: []TrafficPoint{pt(1, 1, 1), pt(2, 2, 2)}},
		{name: "unsorted", points: []TrafficPoint{pt(21, 2, 1), pt(20, 1, 1)}, expected: []TrafficPoint{pt(20, 1, 1), pt(21, 2, 1)}},
		{
			name:     "duplicate day keeps the later point",
			points:   []TrafficPoint{pt(3, 1, 1), pt(1, 4, 2), pt(3, 9, 5)},
			expected: []TrafficPoint{pt(1, 4, 2), pt(3, 9, 5)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repaired := Repair(tc.points)

			assert.Equal(t, tc.expected, repaired)
			assert.NoError(t, Validate(repaired))
		})
	}
}

func TestUpsert_EmptyTargetKeepsIncomingAsGiven(t *testing.T) {
	incoming := []TrafficPoint{pt(21, 2, 1), pt(20, 1, 1)}

	result := Upsert(nil, incoming)

	assert.Equal(t, incoming, result)
	assert.Error(t, Validate(result))
	assert.Equal(t, []TrafficPoint{pt(20, 1, 1), pt(21, 2, 1)}, Repair(result))
}

func TestHistory_Repair(t *testing.T) {
	h := History{
		"octo/bad":  {Clones: []TrafficPoint{pt(1, 1, 1)}, Views: []TrafficPoint{pt(2, 1, 1), pt(1, 1, 1), pt(2, 3, 2)}},
		"octo/good": {Clones: []TrafficPoint{pt(1, 1, 1)}, Views: []TrafficPoint{}},
	}

	repaired := h.Repair()

	assert.Equal(t, []string{"octo/bad"}, repaired)
	assert.Equal(t, []TrafficPoint{pt(1, 1, 1), pt(2, 3, 2)}, h["octo/bad"].Views)
	assert.Equal(t, []TrafficPoint{pt(1, 1, 1)}, h["octo/bad"].Clones)
	assert.NoError(t, h["octo/bad"].Validate())
	assert.Empty(t, h.Repair())
}

func TestTrafficPoint_UnmarshalJSON(t *testing.T) {
	testCases := []struct {
		name        string
		input       string
		expected    TrafficPoint
		expectedErr string
	}{
		{name: "rfc3339", input: `{"timestamp":"2024-03-01T00:00:00Z","count":3,"uniques":2}`, expected: pt(1, 3, 2)},
		{name: "date only", input: `{"timestamp":"2024-03-01","count":3,"uniques":2}`, expected: pt(1, 3, 2)},
		{name: "offset is normalised to the utc day", input: `{"timestamp":"2024-03-02T03:30:00+09:00","count":1,"uniques":1}`, expected: pt(1, 1, 1)},
		{name: "garbage", input: `{"timestamp":"yesterday","count":1,"uniques":1}`, expectedErr: `invalid timestamp "yesterday"`},
		{name: "missing timestamp", input: `{"count":1,"uniques":1}`, expectedErr: `invalid timestamp ""`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var p TrafficPoint
			err := json.Unmarshal([]byte(tc.input), &p)

			if tc.expectedErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p)
		})
	}
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	ts := time.Date(2024, time.March, 2, 3, 30, 0, 0, loc)

	assert.Equal(t, day(1), Day(ts))
	assert.Equal(t, day(2), NewTrafficPoint(day(2).Add(13*time.Hour), 1, 1).Timestamp)
}

func TestSplitRepo(t *testing.T) {
	testCases := []struct {
		input string
		owner string
		name  string
		ok    bool
	}{
		{input: "octo/repo", owner: "octo", name: "repo", ok: true},
		{input: "octo", ok: false},
		{input: "/repo", ok: false},
		{input: "octo/", ok: false},
		{input: "octo/repo/extra", ok: false},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			owner, name, ok := SplitRepo(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.owner, owner)
			assert.Equal(t, tc.name, name)
		})
	}
}
