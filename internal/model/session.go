package model

import "time"

// Session is one persisted start-to-stop work interval.
type Session struct {
	ID              string     `db:"id" json:"id"`
	SubjectID       string     `db:"subject_id" json:"subjectId"`
	StartedAt       time.Time  `db:"started_at" json:"startedAt"`
	EndedAt         *time.Time `db:"ended_at" json:"endedAt"`
	DurationSeconds int64      `db:"duration_seconds" json:"durationSeconds"`
}

// IsOpen reports whether the session has not been stopped yet.
func (s *Session) IsOpen() bool {
	return s.EndedAt == nil && s.DurationSeconds == 0
}

// Close sets endedAt and the derived duration. Callers must check IsOpen first.
func (s *Session) Close(endedAt time.Time) {
	s.EndedAt = &endedAt
	s.DurationSeconds = DurationSeconds(s.StartedAt, endedAt)
}

// DurationSeconds returns floor((endedAt - startedAt) / 1s), clamped to zero
// when endedAt precedes startedAt.
func DurationSeconds(startedAt, endedAt time.Time) int64 {
	d := endedAt.Sub(startedAt)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

type CreateSessionParams struct {
	ID        string
	SubjectID string
	StartedAt time.Time
}

type StopSessionParams struct {
	ID      string
	EndedAt time.Time
}

// SessionFilter narrows List results. An empty SubjectID matches every subject.
type SessionFilter struct {
	SubjectID string
}
