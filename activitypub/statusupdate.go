package activitypub

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/domain"
	"github.com/google/uuid"
)

const (
	updateLockTTL = 15 * time.Minute

	// Poll expiry notifications run a little after the advertised end
	// time, so the final remote tallies had a chance to arrive.
	pollExpiryGrace = 5 * time.Minute
)

// StatusUpdater applies an incoming Update to a cached remote status:
// edit history, media and poll diffing, tags, mentions and emoji, all
// in a single transaction.
type StatusUpdater struct {
	db       *db.DB
	locks    Locker
	jobs     Jobs
	resolver *Resolver
	events   EventPublisher
}

func NewStatusUpdater(database *db.DB, locks Locker, jobs Jobs, resolver *Resolver, events EventPublisher) *StatusUpdater {
	return &StatusUpdater{
		db:       database,
		locks:    locks,
		jobs:     jobs,
		resolver: resolver,
		events:   events,
	}
}

// Process applies note to status. An update older than the last one
// already applied is dropped. Concurrent updates for the same status
// URI serialize on a lock; the loser gets domain.ErrRaceCondition and
// the queue retries it.
func (u *StatusUpdater) Process(ctx context.Context, status *domain.Status, note *NoteDoc) error {
	updatedAt := note.UpdatedAt()
	if !updatedAt.IsZero() && status.Edited() && !updatedAt.After(status.EditedAt) {
		return nil
	}

	// Mentioned actors are resolved before the transaction opens,
	// network fetches have no business inside it.
	mentioned := u.resolveMentions(ctx, note)

	err, previousPoll := u.db.ReadPollByStatusId(status.Id)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	var significant bool
	err = u.locks.WithLock(ctx, "create:"+status.URI, updateLockTTL, func() error {
		return u.db.WithTransaction(func(tx *sql.Tx) error {
			var txErr error
			significant, txErr = u.apply(tx, status, note, mentioned)
			return txErr
		})
	})
	if err != nil {
		return err
	}

	u.reschedulePollExpiry(ctx, status, note, previousPoll)

	if significant {
		u.afterEdit(ctx, status, note)
	}
	return nil
}

// reschedulePollExpiry runs after every applied update, significant or
// not. The expiry job is only re-queued when the edit pulled the end
// time forward (or set one where there was none) and somebody already
// voted, otherwise the job scheduled at creation time still fires at
// the right moment.
func (u *StatusUpdater) reschedulePollExpiry(ctx context.Context, status *domain.Status, note *NoteDoc, previous *domain.Poll) {
	if previous == nil {
		return
	}
	expiry := note.PollExpiry()
	if expiry.IsZero() || !expiry.After(time.Now()) {
		return
	}
	if !previous.ExpiresAt.IsZero() && !expiry.Before(previous.ExpiresAt) {
		return
	}
	err, votes := u.db.CountPollVotes(previous.Id)
	if err != nil {
		log.Printf("StatusUpdater: failed to count votes for poll %s: %v", previous.Id, err)
		return
	}
	if votes == 0 {
		return
	}
	if err := u.jobs.EnqueueIn(ctx, JobPollExpiry, map[string]string{
		"status_id": status.Id.String(),
	}, time.Until(expiry)+pollExpiryGrace); err != nil {
		log.Printf("StatusUpdater: failed to reschedule poll expiry for %s: %v", status.URI, err)
	}
}

// apply runs the whole diff inside one transaction and reports whether
// the edit was significant (content, media set or poll structure
// changed).
func (u *StatusUpdater) apply(tx *sql.Tx, status *domain.Status, note *NoteDoc, mentioned []*domain.Account) (bool, error) {
	// A status that predates edit tracking gets a retroactive first
	// snapshot, so the history always starts with the original.
	editCount, err := u.db.CountStatusEditsTx(tx, status.Id)
	if err != nil {
		return false, err
	}
	if editCount == 0 {
		err := u.db.CreateStatusEditTx(tx, &domain.StatusEdit{
			Id:          uuid.New(),
			StatusId:    status.Id,
			AccountId:   status.AccountId,
			Text:        status.Text,
			SpoilerText: status.SpoilerText,
			CreatedAt:   status.CreatedAt,
		})
		if err != nil {
			return false, err
		}
	}

	mediaChanged, err := u.applyMedia(tx, status, note)
	if err != nil {
		return false, err
	}

	pollChanged, err := u.applyPoll(tx, status, note)
	if err != nil {
		return false, err
	}

	contentChanged := status.Text != note.Content ||
		status.SpoilerText != note.Summary ||
		status.Sensitive != note.Sensitive

	status.Text = note.Content
	status.SpoilerText = note.Summary
	status.Sensitive = note.Sensitive
	if lang := note.Language(); lang != "" {
		status.Language = lang
	}

	significant := contentChanged || mediaChanged || pollChanged
	if significant {
		if t := note.UpdatedAt(); !t.IsZero() {
			status.EditedAt = t
		} else {
			status.EditedAt = time.Now()
		}
	}

	if err := u.db.UpdateStatusContentTx(tx, status); err != nil {
		return false, err
	}

	if err := u.applyTags(tx, status, note); err != nil {
		return false, err
	}
	if err := u.applyMentions(tx, status, mentioned); err != nil {
		return false, err
	}
	if err := u.applyEmojis(tx, status, note); err != nil {
		return false, err
	}

	if significant {
		err := u.db.CreateStatusEditTx(tx, &domain.StatusEdit{
			Id:           uuid.New(),
			StatusId:     status.Id,
			AccountId:    status.AccountId,
			Text:         status.Text,
			SpoilerText:  status.SpoilerText,
			MediaChanged: mediaChanged,
			CreatedAt:    status.EditedAt,
		})
		if err != nil {
			return false, err
		}
	}

	return significant, nil
}

// applyMedia diffs attachments by remote URL. Removed attachments are
// detached, not deleted, a later revert can pick them back up.
func (u *StatusUpdater) applyMedia(tx *sql.Tx, status *domain.Status, note *NoteDoc) (bool, error) {
	err, currentPtr := u.db.ReadMediaAttachmentsByStatusIdTx(tx, status.Id)
	if err != nil {
		return false, err
	}
	current := map[string]*domain.MediaAttachment{}
	if currentPtr != nil {
		for i := range *currentPtr {
			m := &(*currentPtr)[i]
			current[m.RemoteURL] = m
		}
	}

	changed := false
	seen := map[string]bool{}

	for _, att := range note.Attachment {
		if att.URL == "" {
			continue
		}
		seen[att.URL] = true

		focusX, focusY := att.Focus()

		if existing, ok := current[att.URL]; ok {
			if existing.Description != att.Name || existing.Blurhash != att.Blurhash ||
				existing.FocusX != focusX || existing.FocusY != focusY ||
				existing.ThumbnailRemoteURL != att.Icon.URL {
				existing.Description = att.Name
				existing.Blurhash = att.Blurhash
				existing.FocusX = focusX
				existing.FocusY = focusY
				existing.ThumbnailRemoteURL = att.Icon.URL
				if err := u.db.UpdateMediaAttachmentTx(tx, existing); err != nil {
					return false, err
				}
				changed = true
			}
			continue
		}

		media := &domain.MediaAttachment{
			Id:                 uuid.New(),
			StatusId:           status.Id,
			AccountId:          status.AccountId,
			Type:               mediaTypeFor(att.MediaType),
			RemoteURL:          att.URL,
			ThumbnailRemoteURL: att.Icon.URL,
			Description:        att.Name,
			Blurhash:           att.Blurhash,
			FocusX:             focusX,
			FocusY:             focusY,
			ProcessingState:    domain.MediaQueued,
			CreatedAt:          time.Now(),
		}
		if err := u.db.CreateMediaAttachmentTx(tx, media); err != nil {
			return false, err
		}
		changed = true
	}

	for url, existing := range current {
		if !seen[url] {
			if err := u.db.SetMediaAttachmentStatusTx(tx, existing.Id, uuid.Nil); err != nil {
				return false, err
			}
			changed = true
		}
	}

	return changed, nil
}

// applyPoll reconciles the poll. A structural change (different
// options or choice mode) throws away all known votes; a pure tally
// refresh keeps them and is not a significant edit.
func (u *StatusUpdater) applyPoll(tx *sql.Tx, status *domain.Status, note *NoteDoc) (bool, error) {
	err, existing := u.db.ReadPollByStatusIdTx(tx, status.Id)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}

	if note.Type != "Question" {
		if existing == nil {
			return false, nil
		}
		return true, u.db.DeletePollTx(tx, existing.Id)
	}

	options, tallies, multiple := note.PollOptions()
	cached := make([]int64, len(tallies))
	for i, t := range tallies {
		cached[i] = int64(t)
	}

	if existing == nil {
		poll := &domain.Poll{
			Id:            uuid.New(),
			StatusId:      status.Id,
			AccountId:     status.AccountId,
			Options:       options,
			Multiple:      multiple,
			ExpiresAt:     note.PollExpiry(),
			CachedTallies: cached,
			VotersCount:   int64(note.VotersCount),
			LastFetchedAt: time.Now(),
			CreatedAt:     time.Now(),
		}
		return true, u.db.CreatePollTx(tx, poll)
	}

	structural := existing.Multiple != multiple || !equalOptions(existing.Options, options)
	if structural {
		if err := u.db.DeletePollVotesTx(tx, existing.Id); err != nil {
			return false, err
		}
	}

	existing.Options = options
	existing.Multiple = multiple
	existing.ExpiresAt = note.PollExpiry()
	existing.CachedTallies = cached
	existing.VotersCount = int64(note.VotersCount)
	existing.LastFetchedAt = time.Now()
	if err := u.db.UpdatePollTx(tx, existing); err != nil {
		return false, err
	}

	return structural, nil
}

func (u *StatusUpdater) applyTags(tx *sql.Tx, status *domain.Status, note *NoteDoc) error {
	var tagIds []int64
	for _, name := range note.Hashtags() {
		id, err := u.db.FindOrCreateTagTx(tx, name)
		if err != nil {
			return err
		}
		tagIds = append(tagIds, id)
	}
	return u.db.SetStatusTagsTx(tx, status.Id, tagIds)
}

// applyMentions adds new mentions and silences removed ones. Silencing
// instead of deleting keeps already-sent notifications consistent.
func (u *StatusUpdater) applyMentions(tx *sql.Tx, status *domain.Status, mentioned []*domain.Account) error {
	err, existingPtr := u.db.ReadMentionsByStatusIdTx(tx, status.Id)
	if err != nil {
		return err
	}
	existing := map[uuid.UUID]*domain.Mention{}
	if existingPtr != nil {
		for i := range *existingPtr {
			m := &(*existingPtr)[i]
			existing[m.AccountId] = m
		}
	}

	wanted := map[uuid.UUID]bool{}
	for _, account := range mentioned {
		wanted[account.Id] = true
		if _, ok := existing[account.Id]; ok {
			continue
		}
		err := u.db.CreateMentionTx(tx, &domain.Mention{
			Id:        uuid.New(),
			StatusId:  status.Id,
			AccountId: account.Id,
			CreatedAt: time.Now(),
		})
		if err != nil {
			return err
		}
	}

	for accountId, mention := range existing {
		if !wanted[accountId] && !mention.Silent {
			if err := u.db.SilenceMentionTx(tx, mention.Id); err != nil {
				return err
			}
		}
	}

	return nil
}

// applyEmojis upserts custom emoji, rewriting an existing one only
// when its image URL or updated stamp moved.
func (u *StatusUpdater) applyEmojis(tx *sql.Tx, status *domain.Status, note *NoteDoc) error {
	err, account := u.db.ReadAccountByIdTx(tx, status.AccountId)
	if err != nil || account == nil {
		return fmt.Errorf("status %s has no account: %w", status.Id, err)
	}

	for _, emoji := range note.Emojis() {
		shortcode := strings.Trim(emoji.Name, ":")
		if shortcode == "" || emoji.Icon.URL == "" {
			continue
		}

		err, existing := u.db.ReadCustomEmojiTx(tx, shortcode, account.Domain)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		emojiURI := emoji.ID
		if emojiURI == "" {
			emojiURI = emoji.Href
		}

		if existing == nil {
			err := u.db.CreateCustomEmojiTx(tx, &domain.CustomEmoji{
				Id:             uuid.New(),
				Shortcode:      shortcode,
				Domain:         account.Domain,
				URI:            emojiURI,
				ImageRemoteURL: emoji.Icon.URL,
				UpdatedAt:      parseTimeOrNow(emoji.Updated),
			})
			if err != nil {
				return err
			}
			continue
		}

		updated := parseTimeOrNow(emoji.Updated)
		if existing.ImageRemoteURL != emoji.Icon.URL || updated.After(existing.UpdatedAt) {
			existing.ImageRemoteURL = emoji.Icon.URL
			existing.UpdatedAt = updated
			if err := u.db.UpdateCustomEmojiTx(tx, existing); err != nil {
				return err
			}
		}
	}

	return nil
}

// afterEdit runs the post-commit side effects of a significant edit.
func (u *StatusUpdater) afterEdit(ctx context.Context, status *domain.Status, note *NoteDoc) {
	// Stale link previews go away immediately, the recrawl is spread
	// out to avoid hammering link targets when many servers edit at
	// once.
	if err := u.db.ClearStatusPreviewCards(status.Id); err != nil {
		log.Printf("StatusUpdater: failed to clear preview cards for %s: %v", status.URI, err)
	}
	delay := time.Duration(1+rand.IntN(59)) * time.Second
	if err := u.jobs.EnqueueIn(ctx, JobLinkCrawl, map[string]string{
		"status_id": status.Id.String(),
	}, delay); err != nil {
		log.Printf("StatusUpdater: failed to enqueue link crawl for %s: %v", status.URI, err)
	}

	if err := u.jobs.EnqueueUnique(ctx, JobKeywordFilter, map[string]string{
		"status_id": status.Id.String(),
	}, "keyword_filter:"+status.Id.String(), time.Hour); err != nil {
		log.Printf("StatusUpdater: failed to enqueue keyword filter for %s: %v", status.URI, err)
	}

	// Edits to statuses this server owns go back out to followers
	if status.Local {
		if err := u.jobs.Enqueue(ctx, JobDistribute, map[string]string{
			"status_id": status.Id.String(),
		}); err != nil {
			log.Printf("StatusUpdater: failed to enqueue distribution for %s: %v", status.URI, err)
		}
	}

	if u.events != nil {
		if err := u.events.Publish(ctx, "status.updated", status.URI, status); err != nil {
			log.Printf("StatusUpdater: failed to publish edit event for %s: %v", status.URI, err)
		}
	}
}

func (u *StatusUpdater) resolveMentions(ctx context.Context, note *NoteDoc) []*domain.Account {
	var accounts []*domain.Account
	for _, href := range note.Mentions() {
		account, err := u.resolver.ResolveActorURI(ctx, href)
		if err != nil || account == nil {
			log.Printf("StatusUpdater: could not resolve mention %s: %v", href, err)
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts
}

func mediaTypeFor(mediaType string) domain.MediaAttachmentType {
	switch {
	case mediaType == "image/gif":
		return domain.MediaGifv
	case strings.HasPrefix(mediaType, "image/"):
		return domain.MediaImage
	case strings.HasPrefix(mediaType, "video/"):
		return domain.MediaVideo
	case strings.HasPrefix(mediaType, "audio/"):
		return domain.MediaAudio
	default:
		return domain.MediaUnknown
	}
}

func equalOptions(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func parseTimeOrNow(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}

// hostOf is a small helper shared by attribution checks.
func hostOf(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return parsed.Host
}
