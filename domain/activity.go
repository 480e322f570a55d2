package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityKind is the closed set of activity types the inbox pipeline
// dispatches on. Anything else parses to ActivityUnknown and is logged
// and dropped.
type ActivityKind int

const (
	ActivityUnknown ActivityKind = iota
	ActivityCreate
	ActivityUpdate
	ActivityAnnounce
	ActivityDelete
	ActivityFollow
	ActivityUndo
	ActivityAccept
	ActivityLike
)

var activityKindNames = map[ActivityKind]string{
	ActivityUnknown:  "Unknown",
	ActivityCreate:   "Create",
	ActivityUpdate:   "Update",
	ActivityAnnounce: "Announce",
	ActivityDelete:   "Delete",
	ActivityFollow:   "Follow",
	ActivityUndo:     "Undo",
	ActivityAccept:   "Accept",
	ActivityLike:     "Like",
}

func (k ActivityKind) String() string {
	return activityKindNames[k]
}

// ParseActivityKind maps a wire type string to an ActivityKind
func ParseActivityKind(s string) ActivityKind {
	switch s {
	case "Create":
		return ActivityCreate
	case "Update":
		return ActivityUpdate
	case "Announce":
		return ActivityAnnounce
	case "Delete":
		return ActivityDelete
	case "Follow":
		return ActivityFollow
	case "Undo":
		return ActivityUndo
	case "Accept":
		return ActivityAccept
	case "Like":
		return ActivityLike
	default:
		return ActivityUnknown
	}
}

// Activity is the processed-activity log used for inbound deduplication
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	Local        bool
	CreatedAt    time.Time
}

// DeliveryQueueItem is one pending outbound delivery
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	AccountId    uuid.UUID // signing account
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
