package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gomphos/gomphos/domain"
	"github.com/google/uuid"
)

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	Icon struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"icon"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// fetchActor fetches an actor document and upserts it into the
// account cache.
func (r *Resolver) fetchActor(ctx context.Context, actorURI string) (*domain.Account, error) {
	doc, err := r.fetchJSON(ctx, actorURI)
	if err != nil {
		return nil, err
	}

	var actor ActorResponse
	if err := json.Unmarshal(doc, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor %s missing required fields", actorURI)
	}
	if actor.PublicKey.Owner != "" && actor.PublicKey.Owner != actor.ID {
		return nil, fmt.Errorf("actor %s key owned by %s", actor.ID, actor.PublicKey.Owner)
	}

	// The document is only trusted for the host it was fetched from
	if !sameHost(actorURI, actor.ID) {
		return nil, fmt.Errorf("actor id %s does not match fetch origin %s", actor.ID, actorURI)
	}

	domainName, err := extractDomain(actor.ID)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		Id:                uuid.New(),
		Username:          actor.PreferredUsername,
		Domain:            domainName,
		ActorURI:          actor.ID,
		DisplayName:       actor.Name,
		Summary:           actor.Summary,
		InboxURI:          actor.Inbox,
		OutboxURI:         actor.Outbox,
		SharedInboxURI:    actor.Endpoints.SharedInbox,
		PublicKeyPem:      actor.PublicKey.PublicKeyPem,
		AvatarURL:         actor.Icon.URL,
		LastWebfingeredAt: time.Now(),
		CreatedAt:         time.Now(),
	}

	if err := r.db.UpsertAccount(account); err != nil {
		return nil, fmt.Errorf("failed to store remote account: %w", err)
	}

	// Upsert may have kept an existing row, read back the canonical one
	if err, stored := r.db.ReadAccountByActorURI(actor.ID); err == nil && stored != nil {
		return stored, nil
	}
	return account, nil
}

func (r *Resolver) fetchJSON(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", activityJSONType)
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return nil, errAccountGone
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch of %s failed with status %d", uri, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// extractDomain extracts the host from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	return parsed.Host, nil
}

func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Host != "" && ua.Host == ub.Host
}
