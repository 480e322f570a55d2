package domain

import (
	"time"

	"github.com/google/uuid"
)

// Visibility of a status
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

// Status represents a federated message
type Status struct {
	Id           uuid.UUID
	URI          string // globally unique
	AccountId    uuid.UUID
	InReplyToURI string
	Text         string
	SpoilerText  string
	Visibility   Visibility
	Sensitive    bool
	Language     string
	Local        bool
	ReblogOfId   uuid.UUID // non-nil for boosts
	CreatedAt    time.Time
	EditedAt     time.Time // zero until the first edit
	DeletedAt    time.Time // zero unless tombstoned
}

// Edited reports whether the status has ever been edited
func (s *Status) Edited() bool {
	return !s.EditedAt.IsZero()
}

// MediaAttachmentType classifies an attachment
type MediaAttachmentType string

const (
	MediaImage   MediaAttachmentType = "image"
	MediaGifv    MediaAttachmentType = "gifv"
	MediaVideo   MediaAttachmentType = "video"
	MediaAudio   MediaAttachmentType = "audio"
	MediaUnknown MediaAttachmentType = "unknown"
)

// MediaProcessingState tracks the download/transcode pipeline
type MediaProcessingState string

const (
	MediaQueued     MediaProcessingState = "queued"
	MediaInProgress MediaProcessingState = "in_progress"
	MediaComplete   MediaProcessingState = "complete"
	MediaFailed     MediaProcessingState = "failed"
)

// MediaAttachment is owned by at most one status. StatusId is uuid.Nil
// while unattached (during upload, or after being detached by an edit).
type MediaAttachment struct {
	Id                 uuid.UUID
	StatusId           uuid.UUID
	AccountId          uuid.UUID
	Type               MediaAttachmentType
	RemoteURL          string
	ThumbnailRemoteURL string
	FileName           string
	Description        string
	Blurhash           string
	FocusX             float64
	FocusY             float64
	ProcessingState    MediaProcessingState
	CreatedAt          time.Time
}

// Attached reports whether the attachment currently belongs to a status
func (m *MediaAttachment) Attached() bool {
	return m.StatusId != uuid.Nil
}

// Poll is owned by exactly one status
type Poll struct {
	Id            uuid.UUID
	StatusId      uuid.UUID
	AccountId     uuid.UUID
	Options       []string
	Multiple      bool
	ExpiresAt     time.Time
	CachedTallies []int64
	VotersCount   int64
	LastFetchedAt time.Time
	CreatedAt     time.Time
}

// PollVote is a single cast vote
type PollVote struct {
	Id        uuid.UUID
	PollId    uuid.UUID
	AccountId uuid.UUID
	Choice    int
	CreatedAt time.Time
}

// StatusEdit is an immutable snapshot in a status's edit history.
// Append-only; the first entry always describes the status as created.
type StatusEdit struct {
	Id           uuid.UUID
	StatusId     uuid.UUID
	AccountId    uuid.UUID
	Text         string
	SpoilerText  string
	MediaChanged bool
	CreatedAt    time.Time
}

// Mention links a status to a mentioned account. Mentions removed by an
// edit are downgraded to silent instead of deleted, so notifications
// already sent stay consistent.
type Mention struct {
	Id        uuid.UUID
	StatusId  uuid.UUID
	AccountId uuid.UUID
	Silent    bool
	CreatedAt time.Time
}

// Tag is a hashtag
type Tag struct {
	Id                int64
	Name              string
	Trendable         bool
	MaxScore          float64
	MaxScoreAt        time.Time
	RequestedReviewAt time.Time
	CreatedAt         time.Time
}

// PreviewCard is a cached link preview attached to statuses
type PreviewCard struct {
	Id        int64
	URL       string
	Title     string
	Trendable bool
	MaxScore  float64
	MaxScoreAt time.Time
	CreatedAt time.Time
}

// CustomEmoji is a remote custom emoji referenced by a status
type CustomEmoji struct {
	Id             uuid.UUID
	Shortcode      string
	Domain         string
	URI            string
	ImageRemoteURL string
	UpdatedAt      time.Time
}
