package model

type SessionEventType string

const (
	SessionEventStarted SessionEventType = "session_started"
	SessionEventStopped SessionEventType = "session_stopped"
)
