package domain

import (
	"fmt"
	"slices"
)

// Upsert folds incoming into target, keyed by calendar day, and returns the result.
//
// An empty target is replaced by incoming as given; the remote source already delivers
// its window sorted and free of duplicates. Otherwise every incoming point, in order,
// either overwrites the target element of the same day or is inserted before the first
// element of a later day. Later points win, so a duplicate day inside incoming resolves
// to its last occurrence.
func Upsert(target, incoming []TrafficPoint) []TrafficPoint {
	if len(target) == 0 {
		return append([]TrafficPoint(nil), incoming...)
	}
	for _, p := range incoming {
		if i := slices.IndexFunc(target, func(c TrafficPoint) bool { return c.Timestamp.Equal(p.Timestamp) }); i >= 0 {
			target[i] = p
			continue
		}
		i := slices.IndexFunc(target, func(c TrafficPoint) bool { return c.Timestamp.After(p.Timestamp) })
		if i < 0 {
			target = append(target, p)
			continue
		}
		target = slices.Insert(target, i, p)
	}
	return target
}

// Repair returns points sorted ascending with one point per day. It upserts the points one at a
// time into an empty sequence, so a duplicated day keeps its last occurrence.
func Repair(points []TrafficPoint) []TrafficPoint {
	repaired := make([]TrafficPoint, 0, len(points))
	for _, p := range points {
		repaired = Upsert(repaired, []TrafficPoint{p})
	}
	return repaired
}

// Validate returns an error if points are not strictly ascending by timestamp.
func Validate(points []TrafficPoint) error {
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1].Timestamp, points[i].Timestamp
		if cur.Equal(prev) {
			return fmt.Errorf("duplicate timestamp %s at index %d", cur.Format("2006-01-02"), i)
		}
		if cur.Before(prev) {
			return fmt.Errorf("timestamp %s at index %d is out of order", cur.Format("2006-01-02"), i)
		}
	}
	return nil
}
