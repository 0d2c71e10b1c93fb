package model

import "time"

// DateOnly truncates t to midnight UTC. Task and exam dates are compared
// at day granularity everywhere in the planner.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
