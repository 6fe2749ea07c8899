package models

import (
	"fmt"
	"time"
)

// JobState is the lifecycle of a tracking job, not of a single tick.
type JobState string

const (
	// JobIdle is a created job whose loop has not been launched yet.
	JobIdle JobState = "Idle"
	// JobRunning holds from launch until Stop.
	JobRunning JobState = "Running"
	JobStopped JobState = "Stopped"
)

func (s JobState) Active() bool {
	return s == JobIdle || s == JobRunning
}

func ParseJobState(v string) (JobState, error) {
	switch JobState(v) {
	case JobIdle, JobRunning, JobStopped:
		return JobState(v), nil
	}
	return "", fmt.Errorf("unknown job state %q", v)
}

// TrackingJob polls a fixed competitor set for one product.
type TrackingJob struct {
	ID          string        `json:"jobId"`
	ProductID   string        `json:"productId"`
	Competitors []string      `json:"competitors"`
	Interval    time.Duration `json:"-"`
	State       JobState      `json:"state"`
	CreatedAt   time.Time     `json:"createdAt"`
	StoppedAt   *time.Time    `json:"stoppedAt,omitempty"`

	IntervalMinutes int `json:"intervalMinutes"`

	Stats JobStats `json:"stats"`
}

// JobStats lets callers tell "no data yet" apart from "tracking failed".
type JobStats struct {
	Ticks        int64      `json:"ticks"`
	SkippedTicks int64      `json:"skippedTicks"`
	Observations int64      `json:"observations"`
	Failures     int64      `json:"failures"`
	LastTickAt   *time.Time `json:"lastTickAt,omitempty"`
	LastSuccess  *time.Time `json:"lastSuccessAt,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
}
