package engine

import (
	"time"

	"taskboard-api/domain"
)

// Project groups tasks into one bucket per day of the range. A bucket exists
// for every day even when empty; tasks whose day falls outside the range are
// excluded from the projection without being touched in the store. Bucket
// order follows the order tasks were loaded or created.
func Project(tasks []domain.Task, r domain.DayRange, loc *time.Location) map[domain.DayKey][]domain.Task {
	buckets := make(map[domain.DayKey][]domain.Task, r.Len())
	for _, day := range r.Days() {
		buckets[day] = []domain.Task{}
	}
	for _, t := range tasks {
		day := t.Day(loc)
		if _, ok := buckets[day]; !ok {
			continue
		}
		buckets[day] = append(buckets[day], t)
	}
	return buckets
}
