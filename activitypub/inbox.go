package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/domain"
	"github.com/gomphos/gomphos/util"
	"github.com/google/uuid"
)

// ActivityEnvelope is the outer shape of an incoming activity.
type ActivityEnvelope struct {
	Context   interface{}     `json:"@context"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	Object    json.RawMessage `json:"object"`
	Signature json.RawMessage `json:"signature"`
}

// Processor runs the inbox pipeline: authenticate, deduplicate,
// dispatch per activity type.
type Processor struct {
	db       *db.DB
	conf     *util.AppConfig
	resolver *Resolver
	updater  *StatusUpdater
	outbox   *Outbox
	jobs     Jobs
	events   EventPublisher
}

func NewProcessor(database *db.DB, conf *util.AppConfig, resolver *Resolver, updater *StatusUpdater, outbox *Outbox, jobs Jobs, events EventPublisher) *Processor {
	return &Processor{
		db:       database,
		conf:     conf,
		resolver: resolver,
		updater:  updater,
		outbox:   outbox,
		jobs:     jobs,
		events:   events,
	}
}

// AuthenticateEnvelope establishes which account a payload really
// comes from. The HTTP signature covers the direct sender; when the
// activity's actor differs (a relayed payload), the embedded LD
// signature must vouch for the actor instead. Returns nil when no
// trust path exists.
func (p *Processor) AuthenticateEnvelope(ctx context.Context, envelope *ActivityEnvelope, doc map[string]interface{}, signedBy string) *domain.Account {
	if envelope.Actor == "" {
		return nil
	}

	actor, err := p.resolver.ResolveActorURI(ctx, envelope.Actor)
	if err != nil || actor == nil {
		log.Printf("Inbox: failed to resolve actor %s: %v", envelope.Actor, err)
		return nil
	}
	if actor.Suspended() {
		return nil
	}

	if signedBy != "" && signedBy == envelope.Actor {
		return actor
	}

	// Relayed payload, fall back to the embedded signature
	if envelope.Signature != nil {
		return VerifyJsonLdActor(actor, doc)
	}

	return nil
}

// ProcessInbox handles one authenticated activity. The activity log
// deduplicates by URI, a replayed delivery is a no-op.
func (p *Processor) ProcessInbox(ctx context.Context, body []byte, actor *domain.Account) error {
	var envelope ActivityEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("invalid activity: %w", err)
	}

	if envelope.ID != "" {
		if err, seen := p.db.ReadActivityByURI(envelope.ID); err == nil && seen != nil {
			return nil
		}
	}

	kind := domain.ParseActivityKind(envelope.Type)
	log.Printf("Inbox: %s from %s", envelope.Type, actor.Acct())

	record := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  envelope.ID,
		ActivityType: envelope.Type,
		ActorURI:     actor.ActorURI,
		ObjectURI:    objectURIOf(envelope.Object),
		RawJSON:      string(body),
		CreatedAt:    time.Now(),
	}
	if err := p.db.CreateActivity(record); err != nil {
		// Unique violation on the URI means another worker got here first
		return nil
	}

	var err error
	switch kind {
	case domain.ActivityCreate:
		err = p.handleCreate(ctx, actor, &envelope)
	case domain.ActivityUpdate:
		err = p.handleUpdate(ctx, actor, &envelope)
	case domain.ActivityDelete:
		err = p.handleDelete(ctx, actor, &envelope)
	case domain.ActivityAnnounce:
		err = p.handleAnnounce(ctx, actor, &envelope)
	case domain.ActivityFollow:
		err = p.handleFollow(ctx, actor, &envelope)
	case domain.ActivityUndo:
		err = p.handleUndo(ctx, actor, &envelope)
	case domain.ActivityAccept:
		err = p.handleAccept(ctx, &envelope)
	case domain.ActivityLike:
		// Stored in the activity log only
	default:
		log.Printf("Inbox: dropping unsupported activity type %s", envelope.Type)
	}
	if err != nil {
		return err
	}

	record.Processed = true
	if uerr := p.db.UpdateActivity(record); uerr != nil {
		log.Printf("Inbox: failed to mark activity %s processed: %v", envelope.ID, uerr)
	}
	return nil
}

func (p *Processor) handleCreate(ctx context.Context, actor *domain.Account, envelope *ActivityEnvelope) error {
	note, err := ParseNote(envelope.Object)
	if err != nil {
		return fmt.Errorf("invalid Create object: %w", err)
	}
	if note.Type != "Note" && note.Type != "Question" {
		log.Printf("Inbox: ignoring Create of %s", note.Type)
		return nil
	}
	_, err = p.createRemoteStatus(ctx, actor, note)
	return err
}

// handleUpdate covers both actor profile updates and status edits.
func (p *Processor) handleUpdate(ctx context.Context, actor *domain.Account, envelope *ActivityEnvelope) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(envelope.Object, &probe); err != nil {
		return fmt.Errorf("invalid Update object: %w", err)
	}

	switch probe.Type {
	case "Person", "Service", "Application", "Group", "Organization":
		_, err := p.resolver.fetchActor(ctx, actor.ActorURI)
		return err
	case "Note", "Question":
		note, err := ParseNote(envelope.Object)
		if err != nil {
			return fmt.Errorf("invalid Update object: %w", err)
		}
		err, status := p.db.ReadStatusByURI(note.ID)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if status == nil {
			// First sight of an edited status, treat it as a create
			_, err := p.createRemoteStatus(ctx, actor, note)
			return err
		}
		if status.AccountId != actor.Id {
			return fmt.Errorf("update of %s from non-owner %s", note.ID, actor.Acct())
		}
		return p.updater.Process(ctx, status, note)
	default:
		log.Printf("Inbox: ignoring Update of %s", probe.Type)
		return nil
	}
}

func (p *Processor) handleDelete(ctx context.Context, actor *domain.Account, envelope *ActivityEnvelope) error {
	objectURI := objectURIOf(envelope.Object)
	if objectURI == "" {
		return nil
	}

	// Actor deleting itself
	if objectURI == actor.ActorURI {
		if err := p.db.SuspendAccount(actor.Id, domain.SuspensionOriginRemote); err != nil {
			return err
		}
		return p.jobs.Enqueue(ctx, JobAccountPurge, map[string]string{
			"account_id": actor.Id.String(),
		})
	}

	err, status := p.db.ReadStatusByURI(objectURI)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if status == nil || status.AccountId != actor.Id {
		return nil
	}
	if err := p.db.MarkStatusDeleted(status.Id); err != nil {
		return err
	}
	if p.events != nil {
		if perr := p.events.Publish(ctx, "status.deleted", status.URI, status); perr != nil {
			log.Printf("Inbox: failed to publish delete event for %s: %v", status.URI, perr)
		}
	}
	return nil
}

func (p *Processor) handleAnnounce(ctx context.Context, actor *domain.Account, envelope *ActivityEnvelope) error {
	targetURI := objectURIOf(envelope.Object)
	if targetURI == "" {
		return nil
	}

	target, err := p.FetchRemoteStatus(ctx, targetURI)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}

	boost := &domain.Status{
		Id:         uuid.New(),
		URI:        envelope.ID,
		AccountId:  actor.Id,
		Visibility: domain.VisibilityPublic,
		ReblogOfId: target.Id,
		CreatedAt:  time.Now(),
	}
	return p.db.CreateStatus(boost)
}

func (p *Processor) handleFollow(ctx context.Context, actor *domain.Account, envelope *ActivityEnvelope) error {
	targetURI := objectURIOf(envelope.Object)
	err, target := p.db.ReadAccountByActorURI(targetURI)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if target == nil || !target.IsLocal() {
		return fmt.Errorf("follow target %s is not a local account", targetURI)
	}

	follow := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       actor.Id,
		TargetAccountId: target.Id,
		URI:             envelope.ID,
		Accepted:        true,
		CreatedAt:       time.Now(),
	}
	if err := p.db.CreateFollow(follow); err != nil {
		return err
	}

	return p.outbox.SendAccept(ctx, target, actor, envelope)
}

func (p *Processor) handleUndo(ctx context.Context, actor *domain.Account, envelope *ActivityEnvelope) error {
	var inner ActivityEnvelope
	if err := json.Unmarshal(envelope.Object, &inner); err != nil {
		return nil
	}

	switch domain.ParseActivityKind(inner.Type) {
	case domain.ActivityFollow:
		return p.db.DeleteFollowByURI(inner.ID)
	case domain.ActivityAnnounce:
		err, boost := p.db.ReadStatusByURI(inner.ID)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if boost == nil || boost.AccountId != actor.Id {
			return nil
		}
		return p.db.MarkStatusDeleted(boost.Id)
	default:
		return nil
	}
}

func (p *Processor) handleAccept(_ context.Context, envelope *ActivityEnvelope) error {
	var inner ActivityEnvelope
	if err := json.Unmarshal(envelope.Object, &inner); err != nil {
		return nil
	}
	if domain.ParseActivityKind(inner.Type) != domain.ActivityFollow {
		return nil
	}
	return p.db.AcceptFollowByURI(inner.ID)
}
