package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/domain"
	"github.com/gomphos/gomphos/util"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"
)

const rssFeedLimit = 50

// GetRSS renders the most recent local statuses as an RSS feed
func GetRSS(database *db.DB, conf *util.AppConfig) (string, error) {

	err, statuses := database.ReadLocalStatuses(rssFeedLimit)
	if err != nil || statuses == nil {
		log.Println("Rss: could not get local statuses!", err)
		return "", errors.New("error retrieving local statuses")
	}

	dom := conf.Conf.LocalDomain

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Posts from %s", dom),
		Link:        &feeds.Link{Href: fmt.Sprintf("https://%s/feed", dom)},
		Description: fmt.Sprintf("public posts published on %s", dom),
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, status := range *statuses {
		err, acc := database.ReadAccountById(status.AccountId)
		if err != nil {
			continue
		}
		feedItems = append(feedItems, rssItem(&status, acc, dom))
	}

	feed.Items = feedItems
	return feed.ToRss()
}

// GetRSSItem renders a single local status as a one-item RSS feed
func GetRSSItem(database *db.DB, conf *util.AppConfig, id uuid.UUID) (string, error) {

	err, status := database.ReadStatusById(id)
	if err != nil || status == nil || !status.Local || !status.DeletedAt.IsZero() {
		log.Println("Rss: could not get status!", err)
		return "", errors.New("error retrieving status by id")
	}

	err, acc := database.ReadAccountById(status.AccountId)
	if err != nil {
		return "", err
	}

	dom := conf.Conf.LocalDomain

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Post by %s", acc.Username),
		Link:        &feeds.Link{Href: fmt.Sprintf("https://%s/feed/%s", dom, status.Id)},
		Description: fmt.Sprintf("a single post published on %s", dom),
		Author:      &feeds.Author{Name: acc.Username, Email: fmt.Sprintf("%s@%s", acc.Username, dom)},
		Created:     time.Now(),
	}

	feed.Items = []*feeds.Item{rssItem(status, acc, dom)}
	return feed.ToRss()
}

func rssItem(status *domain.Status, acc *domain.Account, dom string) *feeds.Item {
	email := fmt.Sprintf("%s@%s", acc.Username, dom)
	return &feeds.Item{
		Id:      status.Id.String(),
		Title:   status.CreatedAt.Format(util.DateTimeFormat()),
		Link:    &feeds.Link{Href: fmt.Sprintf("https://%s/feed/%s", dom, status.Id)},
		Content: status.Text,
		Author:  &feeds.Author{Name: acc.Username, Email: email},
		Created: status.CreatedAt,
	}
}
