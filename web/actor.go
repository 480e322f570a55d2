package web

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/util"
)

// GetActor renders the ActivityPub actor document for a local account
func GetActor(database *db.DB, username string, conf *util.AppConfig) (error, string) {

	err, acc := database.ReadAccountByHandle(username, "")
	if err != nil {
		return err, GetWebFingerNotFound()
	}
	if acc.Suspended() {
		return errors.New("account suspended"), GetWebFingerNotFound()
	}

	dom := conf.Conf.LocalDomain
	actorURI := fmt.Sprintf("https://%s/users/%s", dom, acc.Username)

	actor := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                actorURI,
		"type":              "Person",
		"preferredUsername": acc.Username,
		"name":              acc.DisplayName,
		"summary":           acc.Summary,
		"inbox":             actorURI + "/inbox",
		"outbox":            actorURI + "/outbox",
		"followers":         actorURI + "/followers",
		"following":         actorURI + "/following",
		"endpoints": map[string]interface{}{
			"sharedInbox": fmt.Sprintf("https://%s/inbox", dom),
		},
		"publicKey": map[string]interface{}{
			"id":           actorURI + "#main-key",
			"owner":        actorURI,
			"publicKeyPem": acc.PublicKeyPem,
		},
	}
	if acc.AvatarURL != "" {
		actor["icon"] = map[string]interface{}{
			"type": "Image",
			"url":  acc.AvatarURL,
		}
	}

	out, err := json.Marshal(actor)
	if err != nil {
		return err, GetWebFingerNotFound()
	}

	return nil, string(out)
}
