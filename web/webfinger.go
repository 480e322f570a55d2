package web

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gomphos/gomphos/activitypub"
	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/util"
)

// GetWebfinger renders the JRD document for a local account
func GetWebfinger(database *db.DB, user string, conf *util.AppConfig) (error, string) {

	err, acc := database.ReadAccountByHandle(user, "")
	if err != nil {
		return err, GetWebFingerNotFound()
	}
	if acc.Suspended() {
		return errors.New("account suspended"), GetWebFingerNotFound()
	}

	actorURI := fmt.Sprintf("https://%s/users/%s", conf.Conf.LocalDomain, acc.Username)

	resp := activitypub.WebfingerResponse{
		Subject: fmt.Sprintf("acct:%s@%s", acc.Username, conf.Conf.LocalDomain),
		Aliases: []string{actorURI},
		Links: []activitypub.WebfingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: actorURI,
			},
		},
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return err, GetWebFingerNotFound()
	}

	return nil, string(out)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
