package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gomphos/gomphos/domain"
	"github.com/google/uuid"
)

// createRemoteStatus stores a Note from a remote actor, with its
// attachments, poll, tags and mentions, in one transaction. Re-receipt
// of a known URI returns the stored status.
func (p *Processor) createRemoteStatus(ctx context.Context, actor *domain.Account, note *NoteDoc) (*domain.Status, error) {
	if err, existing := p.db.ReadStatusByURI(note.ID); err == nil && existing != nil {
		return existing, nil
	}

	// A document may only speak for objects of its own host
	if !sameHost(note.ID, actor.ActorURI) {
		return nil, fmt.Errorf("object %s not attributed to its own host (%s)", note.ID, actor.ActorURI)
	}
	if note.AttributedTo != "" && note.AttributedTo != actor.ActorURI {
		return nil, fmt.Errorf("object %s attributed to %s, received from %s", note.ID, note.AttributedTo, actor.ActorURI)
	}

	if err, rejectMedia := p.db.DomainRejectsMedia(actor.Domain); err == nil && rejectMedia {
		note.Attachment = nil
	}

	mentioned := p.resolveMentionAccounts(ctx, note)

	status := &domain.Status{
		Id:           uuid.New(),
		URI:          note.ID,
		AccountId:    actor.Id,
		InReplyToURI: note.InReplyTo,
		Text:         note.Content,
		SpoilerText:  note.Summary,
		Visibility:   note.Visibility(""),
		Sensitive:    note.Sensitive,
		Language:     note.Language(),
		CreatedAt:    publishedOrNow(note),
	}

	err := p.db.WithTransaction(func(tx *sql.Tx) error {
		if err := p.db.CreateStatusTx(tx, status); err != nil {
			return err
		}

		for _, att := range note.Attachment {
			if att.URL == "" {
				continue
			}
			media := &domain.MediaAttachment{
				Id:              uuid.New(),
				StatusId:        status.Id,
				AccountId:       actor.Id,
				Type:            mediaTypeFor(att.MediaType),
				RemoteURL:       att.URL,
				Description:     att.Name,
				Blurhash:        att.Blurhash,
				ProcessingState: domain.MediaQueued,
				CreatedAt:       time.Now(),
			}
			if err := p.db.CreateMediaAttachmentTx(tx, media); err != nil {
				return err
			}
		}

		if note.Type == "Question" {
			options, tallies, multiple := note.PollOptions()
			cached := make([]int64, len(tallies))
			for i, t := range tallies {
				cached[i] = int64(t)
			}
			poll := &domain.Poll{
				Id:            uuid.New(),
				StatusId:      status.Id,
				AccountId:     actor.Id,
				Options:       options,
				Multiple:      multiple,
				ExpiresAt:     note.PollExpiry(),
				CachedTallies: cached,
				VotersCount:   int64(note.VotersCount),
				LastFetchedAt: time.Now(),
				CreatedAt:     time.Now(),
			}
			if err := p.db.CreatePollTx(tx, poll); err != nil {
				return err
			}
		}

		var tagIds []int64
		for _, name := range note.Hashtags() {
			id, err := p.db.FindOrCreateTagTx(tx, name)
			if err != nil {
				return err
			}
			tagIds = append(tagIds, id)
		}
		if err := p.db.SetStatusTagsTx(tx, status.Id, tagIds); err != nil {
			return err
		}

		for _, account := range mentioned {
			err := p.db.CreateMentionTx(tx, &domain.Mention{
				Id:        uuid.New(),
				StatusId:  status.Id,
				AccountId: account.Id,
				CreatedAt: time.Now(),
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	p.afterCreate(ctx, actor, status, note)
	return status, nil
}

// afterCreate runs the out-of-transaction followups of a new status.
func (p *Processor) afterCreate(ctx context.Context, actor *domain.Account, status *domain.Status, note *NoteDoc) {
	// Public tag usage feeds the trend history
	if status.Visibility == domain.VisibilityPublic {
		if err, tagIds := p.db.ReadStatusTagIds(status.Id); err == nil {
			for _, tagId := range tagIds {
				if err := p.db.RecordTrendUsage("tag", tagId, actor.Id, status.CreatedAt); err != nil {
					log.Printf("Inbox: failed to record tag usage for %s: %v", status.URI, err)
				}
			}
		}
	}

	if err := p.jobs.EnqueueUnique(ctx, JobKeywordFilter, map[string]string{
		"status_id": status.Id.String(),
	}, "keyword_filter:"+status.Id.String(), time.Hour); err != nil {
		log.Printf("Inbox: failed to enqueue keyword filter for %s: %v", status.URI, err)
	}

	if expiry := note.PollExpiry(); !expiry.IsZero() && expiry.After(time.Now()) {
		if err := p.jobs.EnqueueIn(ctx, JobPollExpiry, map[string]string{
			"status_id": status.Id.String(),
		}, time.Until(expiry)+pollExpiryGrace); err != nil {
			log.Printf("Inbox: failed to schedule poll expiry for %s: %v", status.URI, err)
		}
	}

	if p.events != nil {
		if err := p.events.Publish(ctx, "status.created", status.URI, status); err != nil {
			log.Printf("Inbox: failed to publish create event for %s: %v", status.URI, err)
		}
	}
}

// FetchRemoteStatus dereferences a status URI, resolving its author on
// the way. Used for Announce targets and reply threading.
func (p *Processor) FetchRemoteStatus(ctx context.Context, uri string) (*domain.Status, error) {
	if err, cached := p.db.ReadStatusByURI(uri); err == nil && cached != nil {
		return cached, nil
	}

	raw, err := p.resolver.fetchJSON(ctx, uri)
	if err != nil {
		return nil, err
	}

	note, err := ParseNote(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse status %s: %w", uri, err)
	}
	if note.Type != "Note" && note.Type != "Question" {
		return nil, fmt.Errorf("object %s has unsupported type %s", uri, note.Type)
	}
	if !sameHost(uri, note.ID) {
		return nil, fmt.Errorf("status id %s does not match fetch origin %s", note.ID, uri)
	}
	if note.AttributedTo == "" || !sameHost(note.ID, note.AttributedTo) {
		return nil, fmt.Errorf("status %s attributed across hosts", note.ID)
	}

	actor, err := p.resolver.ResolveActorURI(ctx, note.AttributedTo)
	if err != nil {
		return nil, err
	}
	if actor == nil || actor.Suspended() {
		return nil, nil
	}

	return p.createRemoteStatus(ctx, actor, note)
}

func (p *Processor) resolveMentionAccounts(ctx context.Context, note *NoteDoc) []*domain.Account {
	var accounts []*domain.Account
	for _, href := range note.Mentions() {
		account, err := p.resolver.ResolveActorURI(ctx, href)
		if err != nil || account == nil {
			log.Printf("Inbox: could not resolve mention %s: %v", href, err)
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts
}

func publishedOrNow(note *NoteDoc) time.Time {
	if t, err := time.Parse(time.RFC3339, note.Published); err == nil {
		return t
	}
	return time.Now()
}

// objectURIOf pulls the object identifier out of a raw activity
// object, which may be a bare string or an embedded object.
func objectURIOf(object json.RawMessage) string {
	var uri string
	if err := json.Unmarshal(object, &uri); err == nil {
		return uri
	}
	var embedded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(object, &embedded); err == nil {
		return embedded.ID
	}
	return ""
}
