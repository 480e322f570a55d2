package activitypub

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/domain"
	"github.com/google/uuid"
)

const distributeLockTTL = 5 * time.Minute

// Distributor fans a local status out to the inboxes that should see
// it: followers (via shared inboxes where available) plus everyone
// mentioned.
type Distributor struct {
	db     *db.DB
	locks  Locker
	outbox *Outbox
	events EventPublisher
}

func NewDistributor(database *db.DB, locks Locker, outbox *Outbox, events EventPublisher) *Distributor {
	return &Distributor{
		db:     database,
		locks:  locks,
		outbox: outbox,
		events: events,
	}
}

// DistributeStatus delivers a Create (or Update, when the status has
// been edited) for the given local status id. A status deleted before
// its fan-out ran is a no-op, not an error. Concurrent runs for the
// same status serialize on a lock.
func (d *Distributor) DistributeStatus(ctx context.Context, statusId uuid.UUID) error {
	return d.locks.WithLock(ctx, "distribute:"+statusId.String(), distributeLockTTL, func() error {
		return d.distribute(ctx, statusId)
	})
}

func (d *Distributor) distribute(ctx context.Context, statusId uuid.UUID) error {
	err, status := d.db.ReadStatusById(statusId)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if status == nil || !status.DeletedAt.IsZero() {
		// Deleted between enqueue and fan-out
		return nil
	}

	err, account := d.db.ReadAccountById(status.AccountId)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if account == nil || !account.IsLocal() {
		return nil
	}

	note, err := d.outbox.BuildNote(status, account)
	if err != nil {
		return err
	}

	activityType := "Create"
	if status.Edited() {
		activityType = "Update"
	}
	activity, err := d.outbox.WrapActivity(activityType, account, note)
	if err != nil {
		return err
	}

	inboxes := d.targetInboxes(status, account)
	for inbox := range inboxes {
		if err := d.outbox.Enqueue(activity, account, inbox); err != nil {
			log.Printf("Distributor: failed to queue %s for %s: %v", activityType, inbox, err)
		}
	}

	if d.events != nil {
		if err := d.events.Publish(ctx, "status.distributed", status.URI, status); err != nil {
			log.Printf("Distributor: failed to publish event for %s: %v", status.URI, err)
		}
	}

	log.Printf("Distributor: %s for %s fanned out to %d inboxes", activityType, status.URI, len(inboxes))
	return nil
}

// targetInboxes collects the deduplicated set of remote inboxes for a
// status. Direct statuses go to mentioned accounts only.
func (d *Distributor) targetInboxes(status *domain.Status, account *domain.Account) map[string]bool {
	inboxes := map[string]bool{}

	if status.Visibility != domain.VisibilityDirect {
		err, followers := d.db.ReadFollowerAccounts(account.Id)
		if err != nil {
			log.Printf("Distributor: failed to read followers of %s: %v", account.Username, err)
		} else if followers != nil {
			for _, follower := range *followers {
				if follower.IsLocal() || follower.Suspended() {
					continue
				}
				if inbox := follower.PreferredInbox(); inbox != "" {
					inboxes[inbox] = true
				}
			}
		}
	}

	err, mentions := d.db.ReadMentionsByStatusId(status.Id)
	if err == nil && mentions != nil {
		for _, mention := range *mentions {
			if mention.Silent {
				continue
			}
			err, mentioned := d.db.ReadAccountById(mention.AccountId)
			if err != nil || mentioned == nil || mentioned.IsLocal() || mentioned.Suspended() {
				continue
			}
			// Mentions always target the personal inbox
			if mentioned.InboxURI != "" {
				inboxes[mentioned.InboxURI] = true
			}
		}
	}

	return inboxes
}
