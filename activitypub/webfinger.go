package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const activityJSONType = "application/activity+json"

var errAccountGone = errors.New("webfinger reports account gone")

// WebfingerResponse is the JRD document returned by a webfinger lookup
type WebfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebfingerLink `json:"links"`
}

type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// SubjectAcct returns the "user@domain" form of the subject, without
// the acct: scheme, lowercased domain.
func (w *WebfingerResponse) SubjectAcct() string {
	acct := strings.TrimPrefix(w.Subject, "acct:")
	username, host, ok := strings.Cut(acct, "@")
	if !ok {
		return strings.TrimSpace(acct)
	}
	return username + "@" + strings.ToLower(host)
}

// SelfLink returns the href of the rel=self link pointing at the
// ActivityPub actor document, or "" when absent.
func (w *WebfingerResponse) SelfLink() string {
	for _, link := range w.Links {
		if link.Rel != "self" {
			continue
		}
		if link.Type == activityJSONType ||
			strings.Contains(link.Type, "profile=\"https://www.w3.org/ns/activitystreams\"") {
			return link.Href
		}
	}
	return ""
}

// webfinger performs one acct lookup against the given host. A 410
// from the remote means the account was deleted there.
func (r *Resolver) webfinger(ctx context.Context, username, host string) (*WebfingerResponse, error) {
	endpoint := url.URL{
		Scheme:   r.scheme,
		Host:     host,
		Path:     "/.well-known/webfinger",
		RawQuery: url.Values{"resource": {fmt.Sprintf("acct:%s@%s", username, host)}}.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create webfinger request: %w", err)
	}
	req.Header.Set("Accept", "application/jrd+json, application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webfinger request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		return nil, errAccountGone
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("webfinger returned status %d for %s@%s", resp.StatusCode, username, host)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read webfinger response: %w", err)
	}

	var jrd WebfingerResponse
	if err := json.Unmarshal(body, &jrd); err != nil {
		return nil, fmt.Errorf("failed to parse webfinger response: %w", err)
	}

	return &jrd, nil
}
