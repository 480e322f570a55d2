package activitypub

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gomphos/gomphos/domain"
)

const publicCollection = "https://www.w3.org/ns/activitystreams#Public"

// stringList accepts both a bare string and an array of strings, both
// forms are common in the wild for to/cc fields.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

func (s stringList) contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// NoteDoc is the parsed form of a Note or Question object.
type NoteDoc struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	AttributedTo string          `json:"attributedTo"`
	Content      string          `json:"content"`
	Summary      string          `json:"summary"`
	InReplyTo    string          `json:"inReplyTo"`
	Sensitive    bool            `json:"sensitive"`
	Published    string          `json:"published"`
	Updated      string          `json:"updated"`
	To           stringList      `json:"to"`
	Cc           stringList      `json:"cc"`
	Tag          []TagDoc        `json:"tag"`
	Attachment   []AttachmentDoc `json:"attachment"`

	// Question fields
	OneOf       []ChoiceDoc `json:"oneOf"`
	AnyOf       []ChoiceDoc `json:"anyOf"`
	EndTime     string      `json:"endTime"`
	Closed      interface{} `json:"closed"`
	VotersCount int         `json:"votersCount"`

	contentMap map[string]json.RawMessage
}

// TagDoc covers the Hashtag, Mention and Emoji entries of a tag array.
type TagDoc struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Href    string `json:"href"`
	Updated string `json:"updated"`
	Icon    struct {
		URL string `json:"url"`
	} `json:"icon"`
}

// AttachmentDoc is one media attachment of a Note.
type AttachmentDoc struct {
	Type       string    `json:"type"`
	MediaType  string    `json:"mediaType"`
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	Blurhash   string    `json:"blurhash"`
	FocalPoint []float64 `json:"focalPoint"`
	Icon       struct {
		URL string `json:"url"`
	} `json:"icon"`
}

// Focus returns the focal point, (0, 0) when the document carries none.
func (a *AttachmentDoc) Focus() (float64, float64) {
	if len(a.FocalPoint) < 2 {
		return 0, 0
	}
	return a.FocalPoint[0], a.FocalPoint[1]
}

// ChoiceDoc is one poll option of a Question.
type ChoiceDoc struct {
	Name    string `json:"name"`
	Replies struct {
		TotalItems int `json:"totalItems"`
	} `json:"replies"`
}

// ParseNote decodes a Note/Question object, carrying the contentMap
// along for language detection.
func ParseNote(raw json.RawMessage) (*NoteDoc, error) {
	var note NoteDoc
	if err := json.Unmarshal(raw, &note); err != nil {
		return nil, err
	}
	var withMap struct {
		ContentMap map[string]json.RawMessage `json:"contentMap"`
	}
	if err := json.Unmarshal(raw, &withMap); err == nil {
		note.contentMap = withMap.ContentMap
	}
	return &note, nil
}

// Language returns the first contentMap language key, "" when the
// object does not declare one.
func (n *NoteDoc) Language() string {
	for lang := range n.contentMap {
		return lang
	}
	return ""
}

// UpdatedAt parses the updated timestamp, zero time when absent or
// malformed.
func (n *NoteDoc) UpdatedAt() time.Time {
	if n.Updated == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, n.Updated)
	if err != nil {
		return time.Time{}
	}
	return t
}

// PollExpiry parses the Question endTime, zero when absent.
func (n *NoteDoc) PollExpiry() time.Time {
	if n.EndTime == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, n.EndTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// PollOptions returns the option names and whether multiple choices
// are allowed (anyOf means multiple).
func (n *NoteDoc) PollOptions() (options []string, tallies []int, multiple bool) {
	choices := n.OneOf
	if len(n.AnyOf) > 0 {
		choices = n.AnyOf
		multiple = true
	}
	for _, c := range choices {
		options = append(options, c.Name)
		tallies = append(tallies, c.Replies.TotalItems)
	}
	return options, tallies, multiple
}

// Visibility derives the audience level from the to/cc addressing.
func (n *NoteDoc) Visibility(followersURI string) domain.Visibility {
	switch {
	case n.To.contains(publicCollection):
		return domain.VisibilityPublic
	case n.Cc.contains(publicCollection):
		return domain.VisibilityUnlisted
	case followersURI != "" && n.To.contains(followersURI):
		return domain.VisibilityPrivate
	default:
		return domain.VisibilityDirect
	}
}

// Hashtags returns the lowercased hashtag names without the leading #.
func (n *NoteDoc) Hashtags() []string {
	var names []string
	for _, tag := range n.Tag {
		if tag.Type != "Hashtag" {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(tag.Name, "#"))
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Mentions returns the hrefs of mentioned actors.
func (n *NoteDoc) Mentions() []string {
	var hrefs []string
	for _, tag := range n.Tag {
		if tag.Type == "Mention" && tag.Href != "" {
			hrefs = append(hrefs, tag.Href)
		}
	}
	return hrefs
}

// Emojis returns the custom emoji entries.
func (n *NoteDoc) Emojis() []TagDoc {
	var emojis []TagDoc
	for _, tag := range n.Tag {
		if tag.Type == "Emoji" {
			emojis = append(emojis, tag)
		}
	}
	return emojis
}
