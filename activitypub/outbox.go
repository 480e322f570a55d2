package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/domain"
	"github.com/gomphos/gomphos/util"
	"github.com/google/uuid"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// Outbox builds outgoing activities for local accounts and queues them
// for delivery. Activities carry an LD signature so relayed copies
// stay verifiable.
type Outbox struct {
	db   *db.DB
	conf *util.AppConfig
}

func NewOutbox(database *db.DB, conf *util.AppConfig) *Outbox {
	return &Outbox{db: database, conf: conf}
}

// ActorURI returns the canonical actor URI of a local account
func (o *Outbox) ActorURI(username string) string {
	return fmt.Sprintf("https://%s/users/%s", o.conf.Conf.LocalDomain, username)
}

// KeyId returns the signing key id of a local account
func (o *Outbox) KeyId(username string) string {
	return o.ActorURI(username) + "#main-key"
}

// StatusURI returns the canonical URI of a local status
func (o *Outbox) StatusURI(statusId uuid.UUID) string {
	return fmt.Sprintf("https://%s/statuses/%s", o.conf.Conf.LocalDomain, statusId)
}

// BuildNote renders a local status as a Note or Question object.
func (o *Outbox) BuildNote(status *domain.Status, account *domain.Account) (map[string]interface{}, error) {
	actorURI := o.ActorURI(account.Username)

	note := map[string]interface{}{
		"id":           status.URI,
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      status.Text,
		"published":    status.CreatedAt.UTC().Format(time.RFC3339),
		"to":           []string{publicCollection},
		"cc":           []string{actorURI + "/followers"},
	}
	if status.SpoilerText != "" {
		note["summary"] = status.SpoilerText
		note["sensitive"] = true
	}
	if status.Sensitive {
		note["sensitive"] = true
	}
	if status.InReplyToURI != "" {
		note["inReplyTo"] = status.InReplyToURI
	}
	if status.Edited() {
		note["updated"] = status.EditedAt.UTC().Format(time.RFC3339)
	}

	switch status.Visibility {
	case domain.VisibilityUnlisted:
		note["to"] = []string{actorURI + "/followers"}
		note["cc"] = []string{publicCollection}
	case domain.VisibilityPrivate:
		note["to"] = []string{actorURI + "/followers"}
		note["cc"] = []string{}
	case domain.VisibilityDirect:
		note["to"] = []string{}
		note["cc"] = []string{}
	}

	err, poll := o.db.ReadPollByStatusId(status.Id)
	if err == nil && poll != nil {
		note["type"] = "Question"
		choices := make([]map[string]interface{}, len(poll.Options))
		for i, option := range poll.Options {
			tally := int64(0)
			if i < len(poll.CachedTallies) {
				tally = poll.CachedTallies[i]
			}
			choices[i] = map[string]interface{}{
				"type": "Note",
				"name": option,
				"replies": map[string]interface{}{
					"type":       "Collection",
					"totalItems": tally,
				},
			}
		}
		if poll.Multiple {
			note["anyOf"] = choices
		} else {
			note["oneOf"] = choices
		}
		if !poll.ExpiresAt.IsZero() {
			note["endTime"] = poll.ExpiresAt.UTC().Format(time.RFC3339)
		}
		note["votersCount"] = poll.VotersCount
	}

	err, media := o.db.ReadMediaAttachmentsByStatusId(status.Id)
	if err == nil && media != nil && len(*media) > 0 {
		attachments := make([]map[string]interface{}, 0, len(*media))
		for _, m := range *media {
			attachments = append(attachments, map[string]interface{}{
				"type":      "Document",
				"url":       m.RemoteURL,
				"name":      m.Description,
				"blurhash":  m.Blurhash,
				"mediaType": mediaTypeString(m.Type),
			})
		}
		note["attachment"] = attachments
	}

	err, tagIds := o.db.ReadStatusTagIds(status.Id)
	if err == nil && len(tagIds) > 0 {
		tags := make([]map[string]interface{}, 0, len(tagIds))
		for _, tagId := range tagIds {
			if err, tag := o.db.ReadTagById(tagId); err == nil && tag != nil {
				tags = append(tags, map[string]interface{}{
					"type": "Hashtag",
					"name": "#" + tag.Name,
					"href": fmt.Sprintf("https://%s/tags/%s", o.conf.Conf.LocalDomain, tag.Name),
				})
			}
		}
		note["tag"] = tags
	}

	return note, nil
}

// WrapActivity wraps a rendered object into a signed Create or Update
// activity for the given local account.
func (o *Outbox) WrapActivity(activityType string, account *domain.Account, object map[string]interface{}) (map[string]interface{}, error) {
	actorURI := o.ActorURI(account.Username)

	activity := map[string]interface{}{
		"@context": []interface{}{activityStreamsContext, identityContextURI},
		"id":       fmt.Sprintf("%v#%s", object["id"], strings.ToLower(activityType)),
		"type":     activityType,
		"actor":    actorURI,
		"to":       object["to"],
		"cc":       object["cc"],
		"object":   object,
	}

	privateKey, err := ParsePrivateKey(account.PrivateKeyPem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key for %s: %w", account.Username, err)
	}
	if err := SignJsonLd(activity, o.KeyId(account.Username), privateKey); err != nil {
		return nil, err
	}

	return activity, nil
}

// SendAccept answers a Follow with a signed Accept to the follower's
// inbox.
func (o *Outbox) SendAccept(ctx context.Context, local *domain.Account, follower *domain.Account, follow *ActivityEnvelope) error {
	actorURI := o.ActorURI(local.Username)

	var followObject interface{}
	if err := json.Unmarshal(mustMarshal(follow), &followObject); err != nil {
		return err
	}

	accept := map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       fmt.Sprintf("%s#accepts/%s", actorURI, uuid.NewString()),
		"type":     "Accept",
		"actor":    actorURI,
		"object":   followObject,
	}

	return o.Enqueue(accept, local, follower.PreferredInbox())
}

// Enqueue serializes an activity into the delivery queue for one inbox.
func (o *Outbox) Enqueue(activity map[string]interface{}, signer *domain.Account, inboxURI string) error {
	raw, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	item := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     inboxURI,
		AccountId:    signer.Id,
		ActivityJSON: string(raw),
		NextRetryAt:  time.Now(),
		CreatedAt:    time.Now(),
	}
	if err := o.db.EnqueueDelivery(item); err != nil {
		return err
	}
	log.Printf("Outbox: queued %v for %s", activity["type"], inboxURI)
	return nil
}

func mediaTypeString(t domain.MediaAttachmentType) string {
	switch t {
	case domain.MediaImage:
		return "image/jpeg"
	case domain.MediaGifv:
		return "image/gif"
	case domain.MediaVideo:
		return "video/mp4"
	case domain.MediaAudio:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

func mustMarshal(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return raw
}
