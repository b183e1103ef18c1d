package model

import "time"

// DeliveryDecision is the single output of the real-time path for one
// subscriber. It carries everything the delivery collaborator needs.
type DeliveryDecision struct {
	ID              string     `json:"id"`
	EventID         string     `json:"event_id"`
	SubscriberID    string     `json:"subscriber_id"`
	ProfileID       string     `json:"profile_id"`
	Target          Target     `json:"target"`
	Reasons         ReasonSet  `json:"reasons"`
	MatchedKeywords []string   `json:"matched_keywords"`
	ActionKey       ActionKey  `json:"action_key"`
	Repository      Repository `json:"repository"`
	SubjectNumber   int        `json:"subject_number"`
	SubjectTitle    string     `json:"subject_title"`
	SubjectURL      string     `json:"subject_url"`
	Sender          string     `json:"sender"`
	DecidedAt       time.Time  `json:"decided_at"`
}
