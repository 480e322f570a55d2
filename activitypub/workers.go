package activitypub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/domain"
	"github.com/gomphos/gomphos/util"
	"github.com/google/uuid"
)

const (
	crawlBodyLimit = 256 * 1024
	crawlLinkCap   = 4
)

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Workers holds the background job handlers the queue dispatches to.
type Workers struct {
	db          *db.DB
	resolver    *Resolver
	updater     *StatusUpdater
	distributor *Distributor
	client      *http.Client
}

func NewWorkers(database *db.DB, resolver *Resolver, updater *StatusUpdater, distributor *Distributor) *Workers {
	return &Workers{
		db:          database,
		resolver:    resolver,
		updater:     updater,
		distributor: distributor,
		client:      newHTTPClient(),
	}
}

// Distribute fans a local status out to follower inboxes.
func (w *Workers) Distribute(ctx context.Context, args map[string]string) error {
	statusId, err := uuid.Parse(args["status_id"])
	if err != nil {
		return fmt.Errorf("invalid status_id: %w", err)
	}
	return w.distributor.DistributeStatus(ctx, statusId)
}

// PurgeAccount tombstones everything a suspended account left behind.
func (w *Workers) PurgeAccount(_ context.Context, args map[string]string) error {
	accountId, err := uuid.Parse(args["account_id"])
	if err != nil {
		return fmt.Errorf("invalid account_id: %w", err)
	}

	if err := w.db.MarkAccountStatusesDeleted(accountId); err != nil {
		return err
	}
	if err := w.db.DeleteFollowsForAccount(accountId); err != nil {
		return err
	}

	log.Printf("Workers: purged content of account %s", accountId)
	return nil
}

// CrawlLinks builds preview cards for the URLs in a status. Public
// statuses also feed the link trend history.
func (w *Workers) CrawlLinks(ctx context.Context, args map[string]string) error {
	statusId, err := uuid.Parse(args["status_id"])
	if err != nil {
		return fmt.Errorf("invalid status_id: %w", err)
	}

	err, status := w.db.ReadStatusById(statusId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if !status.DeletedAt.IsZero() {
		return nil
	}

	links := util.ExtractLinks(status.Text)
	if len(links) > crawlLinkCap {
		links = links[:crawlLinkCap]
	}

	for _, link := range links {
		title, err := w.fetchTitle(ctx, link)
		if err != nil {
			log.Printf("Workers: link crawl failed for %s: %v", link, err)
			continue
		}

		cardId, err := w.db.FindOrCreatePreviewCard(link, title)
		if err != nil {
			return err
		}
		if err := w.db.AttachStatusPreviewCard(status.Id, cardId); err != nil {
			return err
		}

		if status.Visibility == domain.VisibilityPublic {
			if err := w.db.RecordTrendUsage("link", cardId, status.AccountId, status.CreatedAt); err != nil {
				log.Printf("Workers: failed to record link usage for %s: %v", link, err)
			}
		}
	}

	return nil
}

// ExpirePoll refreshes a remote poll's tallies once it has closed.
// Local polls are authoritative here and need no refetch.
func (w *Workers) ExpirePoll(ctx context.Context, args map[string]string) error {
	statusId, err := uuid.Parse(args["status_id"])
	if err != nil {
		return fmt.Errorf("invalid status_id: %w", err)
	}

	err, status := w.db.ReadStatusById(statusId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if status.Local || !status.DeletedAt.IsZero() {
		return nil
	}

	err, poll := w.db.ReadPollByStatusId(status.Id)
	if err != nil || poll == nil {
		return nil
	}

	body, err := w.resolver.fetchJSON(ctx, status.URI)
	if err != nil {
		log.Printf("Workers: poll refresh fetch failed for %s: %v", status.URI, err)
		return nil
	}
	note, err := ParseNote(body)
	if err != nil {
		return nil
	}

	return w.updater.Process(ctx, status, note)
}

// ApplyKeywordMutes silences the mentions of a status whose text
// matches a muted phrase, so it generates no notifications.
func (w *Workers) ApplyKeywordMutes(_ context.Context, args map[string]string) error {
	statusId, err := uuid.Parse(args["status_id"])
	if err != nil {
		return fmt.Errorf("invalid status_id: %w", err)
	}

	err, phrases := w.db.ReadKeywordMutePhrases()
	if err != nil || len(phrases) == 0 {
		return err
	}

	err, status := w.db.ReadStatusById(statusId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	text := strings.ToLower(status.Text + " " + status.SpoilerText)
	matched := false
	for _, phrase := range phrases {
		if strings.Contains(text, strings.ToLower(phrase)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}

	return w.db.WithTransaction(func(tx *sql.Tx) error {
		err, mentions := w.db.ReadMentionsByStatusIdTx(tx, status.Id)
		if err != nil {
			return err
		}
		for _, mention := range *mentions {
			if mention.Silent {
				continue
			}
			if err := w.db.SilenceMentionTx(tx, mention.Id); err != nil {
				return err
			}
		}
		return nil
	})
}

// fetchTitle pulls the html title of a page, capped and unescaped.
func (w *Workers) fetchTitle(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, crawlBodyLimit))
	if err != nil {
		return "", err
	}

	match := titlePattern.FindSubmatch(body)
	if match == nil {
		return "", nil
	}
	title := strings.TrimSpace(html.UnescapeString(string(match[1])))
	if len(title) > 255 {
		title = title[:255]
	}
	return title, nil
}
