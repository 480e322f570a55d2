package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StaleThreshold is how long a remote account's webfinger data is
// considered fresh
const StaleThreshold = 24 * time.Hour

// Suspension origins record who initiated a suspension.
const (
	SuspensionOriginLocal  = "local"
	SuspensionOriginRemote = "remote"
)

// Account represents a federated identity, local or remote. Domain is
// empty for local accounts. (Username, Domain) is unique.
type Account struct {
	Id               uuid.UUID
	Username         string
	Domain           string
	ActorURI         string
	DisplayName      string
	Summary          string
	InboxURI         string
	OutboxURI        string
	SharedInboxURI   string
	PublicKeyPem     string
	PrivateKeyPem    string // local accounts only
	AvatarURL        string
	SuspendedAt      time.Time
	SuspensionOrigin string // "local" or "remote"
	LastWebfingeredAt time.Time
	CreatedAt        time.Time
}

// IsLocal reports whether the account lives on this server
func (a *Account) IsLocal() bool {
	return a.Domain == ""
}

// Suspended reports whether the account has been soft-deactivated
func (a *Account) Suspended() bool {
	return !a.SuspendedAt.IsZero()
}

// PossiblyStale reports whether the cached webfinger data is due for a
// refresh. Local accounts never need one.
func (a *Account) PossiblyStale() bool {
	if a.IsLocal() {
		return false
	}
	return time.Since(a.LastWebfingeredAt) > StaleThreshold
}

// Acct returns the username@domain handle, bare username for locals
func (a *Account) Acct() string {
	if a.IsLocal() {
		return a.Username
	}
	return fmt.Sprintf("%s@%s", a.Username, a.Domain)
}

// PreferredInbox returns the shared inbox when the remote server
// advertises one, the personal inbox otherwise
func (a *Account) PreferredInbox() string {
	if a.SharedInboxURI != "" {
		return a.SharedInboxURI
	}
	return a.InboxURI
}

// Follow represents a follow relationship between two accounts
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // the follower
	TargetAccountId uuid.UUID // the account being followed
	URI             string    // ActivityPub Follow activity URI (empty for local follows)
	CreatedAt       time.Time
	Accepted        bool
}

// DomainBlock marks a domain as administratively blocked. Blocked
// domains are never resolved or delivered to.
type DomainBlock struct {
	Id          uuid.UUID
	Domain      string
	RejectMedia bool
	CreatedAt   time.Time
}
