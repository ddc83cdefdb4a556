package domain

import "time"

type Job struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Query          string         `json:"query"`
	Reference      MediaReference `json:"reference"`
	SubmittedAt    time.Time      `json:"submittedAt"`
}

type QueueSnapshot struct {
	ConversationID string `json:"conversationId"`
	Active         *Job   `json:"active,omitempty"`
	Pending        []Job  `json:"pending"`
}

func (s QueueSnapshot) Len() int {
	n := len(s.Pending)
	if s.Active != nil {
		n++
	}
	return n
}

type QueueStats struct {
	ActiveConversations int `json:"activeConversations"`
	PendingJobs         int `json:"pendingJobs"`
	RunningJobs         int `json:"runningJobs"`
}

type AckStatus string

const (
	AckQueued    AckStatus = "queued"
	AckDuplicate AckStatus = "duplicate"
	AckNotFound  AckStatus = "not_found"
)

// Ack is returned to the inbound side once a submission has been handled.
// Position is the number of jobs ahead of this one in its conversation.
type Ack struct {
	Status   AckStatus `json:"status"`
	JobID    string    `json:"jobId,omitempty"`
	Position int       `json:"position"`
	Title    string    `json:"title,omitempty"`
	URL      string    `json:"url,omitempty"`
}
