package inventory

import "time"

// MovementPostedEvent is emitted after a movement batch commits. Handlers run
// best-effort outside the posting transaction; a failure never unwinds the
// post.
type MovementPostedEvent struct {
	MovementID int64        `json:"movement_id"`
	Number     string       `json:"number"`
	Type       MovementType `json:"type"`
	PostedAt   time.Time    `json:"posted_at"`
}
