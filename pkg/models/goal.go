package models

import "time"

// GoalConversion is a recorded business event attributed to a funnel and
// subscriber, created once per GOAL step execution per enrollment pass.
type GoalConversion struct {
	ID           string    `json:"id"`
	FunnelID     string    `json:"funnel_id"`
	SubscriberID string    `json:"subscriber_id"`
	GoalName     string    `json:"goal_name"`
	GoalKind     string    `json:"goal_kind"`
	Value        float64   `json:"value"`
	ConvertedAt  time.Time `json:"converted_at"`
}
