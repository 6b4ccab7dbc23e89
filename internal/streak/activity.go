package streak

import (
	"errors"
	"time"
)

// Activity is an "activity occurred" event as it travels through the
// activity queue and the Kafka topic
type Activity struct {
	UserID       string    `json:"user_id"`
	EventKey     string    `json:"event_key"`
	ActivityType string    `json:"activity_type"`
	OccurredAt   time.Time `json:"occurred_at,omitempty"`
}

// Validate reports whether the event can be applied
func (a Activity) Validate() error {
	if a.UserID == "" {
		return errors.New("user_id is required")
	}
	if a.EventKey == "" {
		return errors.New("event_key is required")
	}
	if a.ActivityType == "" {
		return errors.New("activity_type is required")
	}
	return nil
}
