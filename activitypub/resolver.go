package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/domain"
	"github.com/gomphos/gomphos/util"
)

const resolveLockTTL = 15 * time.Minute

// Resolver turns "user@domain" handles and actor URIs into cached
// account rows, going over the wire only when the cache is missing or
// stale.
type Resolver struct {
	db     *db.DB
	locks  Locker
	jobs   Jobs
	conf   *util.AppConfig
	client *http.Client
	scheme string
}

func NewResolver(database *db.DB, locks Locker, jobs Jobs, conf *util.AppConfig) *Resolver {
	return &Resolver{
		db:     database,
		locks:  locks,
		jobs:   jobs,
		conf:   conf,
		client: newHTTPClient(),
		scheme: "https",
	}
}

// ResolveOptions tune a single resolution.
type ResolveOptions struct {
	// SkipWebfinger reuses a cached account even when it is stale.
	SkipWebfinger bool
}

// ResolveAccount resolves a "user@domain" handle to an account. A
// handle that cannot be resolved for benign reasons (unknown account,
// blocked domain, remote errors with no cache) yields (nil, nil); an
// unconfirmed webfinger redirect yields domain.ErrWebfingerRedirect.
func (r *Resolver) ResolveAccount(ctx context.Context, acct string, opts ResolveOptions) (*domain.Account, error) {
	username, accountDomain := splitAcct(acct)
	if username == "" {
		return nil, fmt.Errorf("invalid acct %q", acct)
	}
	if accountDomain == r.conf.Conf.LocalDomain {
		accountDomain = ""
	}

	if accountDomain == "" {
		_, local := r.db.ReadAccountByHandle(username, "")
		return local, nil
	}

	if err, blocked := r.db.IsDomainBlocked(accountDomain); err != nil {
		return nil, err
	} else if blocked {
		return nil, nil
	}

	_, cached := r.db.ReadAccountByHandle(username, accountDomain)
	if cached != nil {
		if cached.Suspended() {
			return cached, nil
		}
		if opts.SkipWebfinger || !cached.PossiblyStale() {
			return cached, nil
		}
	}

	jrd, err := r.webfinger(ctx, username, accountDomain)
	if err != nil {
		if errors.Is(err, errAccountGone) {
			if cached != nil {
				r.suspendAndPurge(ctx, cached)
			}
			return nil, nil
		}
		// Keep serving a stale account over a remote hiccup
		if cached != nil {
			log.Printf("Resolver: webfinger refresh failed for %s, using cache: %v", acct, err)
			return cached, nil
		}
		return nil, err
	}

	// A subject that differs from what we asked for is a redirect. It
	// is followed exactly once, and the destination must confirm
	// itself, otherwise any server could claim someone else's handle.
	confirmed := jrd.SubjectAcct()
	if confirmed != username+"@"+accountDomain {
		redirUser, redirDomain := splitAcct(confirmed)
		if redirUser == "" {
			return nil, domain.ErrWebfingerRedirect
		}

		if redirDomain == r.conf.Conf.LocalDomain {
			_, local := r.db.ReadAccountByHandle(redirUser, "")
			return local, nil
		}

		jrd, err = r.webfinger(ctx, redirUser, redirDomain)
		if err != nil {
			if errors.Is(err, errAccountGone) {
				return nil, nil
			}
			return nil, err
		}
		if jrd.SubjectAcct() != redirUser+"@"+redirDomain {
			return nil, domain.ErrWebfingerRedirect
		}

		username, accountDomain = redirUser, redirDomain
		if err, blocked := r.db.IsDomainBlocked(accountDomain); err != nil {
			return nil, err
		} else if blocked {
			return nil, nil
		}
		_, cached = r.db.ReadAccountByHandle(username, accountDomain)
		if cached != nil && cached.Suspended() {
			return cached, nil
		}
	}

	actorURI := jrd.SelfLink()
	if actorURI == "" {
		return nil, fmt.Errorf("webfinger for %s@%s has no actor link", username, accountDomain)
	}

	// A held lock means another worker is fetching the same actor
	// right now. The retryable error goes back to the caller, serving
	// the stale cache here would hand out the row the other worker is
	// about to overwrite.
	var resolved *domain.Account
	err = r.locks.WithLock(ctx, "resolve:"+username+"@"+accountDomain, resolveLockTTL, func() error {
		account, ferr := r.fetchActor(ctx, actorURI)
		resolved = account
		return ferr
	})
	if err != nil {
		return nil, err
	}

	return resolved, nil
}

// ResolveActorURI resolves an actor document URI to an account,
// fetching it when uncached or stale.
func (r *Resolver) ResolveActorURI(ctx context.Context, actorURI string) (*domain.Account, error) {
	_, cached := r.db.ReadAccountByActorURI(actorURI)
	if cached != nil && (cached.Suspended() || !cached.PossiblyStale()) {
		return cached, nil
	}

	// The fetch-and-upsert serializes per actor URI; a held lock
	// surfaces as domain.ErrRaceCondition so the queue retries.
	var account *domain.Account
	err := r.locks.WithLock(ctx, "resolve:"+actorURI, resolveLockTTL, func() error {
		fetched, ferr := r.fetchActor(ctx, actorURI)
		account = fetched
		return ferr
	})
	if err != nil {
		if errors.Is(err, domain.ErrRaceCondition) {
			return nil, err
		}
		if cached != nil {
			log.Printf("Resolver: actor refresh failed for %s, using cache: %v", actorURI, err)
			return cached, nil
		}
		return nil, err
	}
	return account, nil
}

// ResolveKeyId resolves a signing key id ("...#main-key") to its
// owning account.
func (r *Resolver) ResolveKeyId(ctx context.Context, keyId string) (*domain.Account, error) {
	actorURI := strings.Split(keyId, "#")[0]
	return r.ResolveActorURI(ctx, actorURI)
}

func (r *Resolver) suspendAndPurge(ctx context.Context, account *domain.Account) {
	if err := r.db.SuspendAccount(account.Id, domain.SuspensionOriginRemote); err != nil {
		log.Printf("Resolver: failed to suspend gone account %s: %v", account.Acct(), err)
		return
	}
	if err := r.jobs.Enqueue(ctx, JobAccountPurge, map[string]string{
		"account_id": account.Id.String(),
	}); err != nil {
		log.Printf("Resolver: failed to enqueue purge for %s: %v", account.Acct(), err)
	}
}

// splitAcct parses "user@domain" with optional leading @ and acct:
// prefix. The domain comes back lowercased.
func splitAcct(acct string) (username, accountDomain string) {
	acct = strings.TrimPrefix(strings.TrimPrefix(acct, "acct:"), "@")
	username, accountDomain, ok := strings.Cut(acct, "@")
	if !ok {
		return acct, ""
	}
	return username, strings.ToLower(accountDomain)
}
