package activitypub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/domain"
	"github.com/google/uuid"
)

func newTestProcessor(t *testing.T, database *db.DB, jobs Jobs) *Processor {
	t.Helper()
	if jobs == nil {
		jobs = &fakeJobs{}
	}
	conf := testConfig()
	resolver := newTestResolver(database, jobs, nil)
	outbox := NewOutbox(database, conf)
	updater := NewStatusUpdater(database, &fakeLocker{}, jobs, resolver, nil)
	return NewProcessor(database, conf, resolver, updater, outbox, jobs, nil)
}

func marshalActivity(t *testing.T, activity map[string]interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(activity)
	if err != nil {
		t.Fatalf("Failed to marshal activity: %v", err)
	}
	return body
}

func createActivityFor(actor *domain.Account, noteId, content string) map[string]interface{} {
	return map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       noteId + "#create",
		"type":     "Create",
		"actor":    actor.ActorURI,
		"object": map[string]interface{}{
			"id":           noteId,
			"type":         "Note",
			"attributedTo": actor.ActorURI,
			"content":      content,
			"published":    time.Now().UTC().Format(time.RFC3339),
			"to":           []string{publicCollection},
			"tag": []map[string]interface{}{
				{"type": "Hashtag", "name": "#introductions"},
			},
		},
	}
}

func TestInboxCreateStoresStatus(t *testing.T) {
	database := setupTestDB(t)
	actor := newRemoteAccount(t, database, "alice", "remote.example")
	processor := newTestProcessor(t, database, nil)

	noteId := "http://remote.example/statuses/100"
	body := marshalActivity(t, createActivityFor(actor, noteId, "hello fediverse"))

	if err := processor.ProcessInbox(context.Background(), body, actor); err != nil {
		t.Fatalf("ProcessInbox failed: %v", err)
	}

	err, status := database.ReadStatusByURI(noteId)
	if err != nil {
		t.Fatalf("ReadStatusByURI failed: %v", err)
	}
	if status == nil {
		t.Fatal("Expected the status to be stored")
	}
	if status.Text != "hello fediverse" || status.AccountId != actor.Id {
		t.Errorf("Unexpected status: %+v", status)
	}
	if status.Visibility != domain.VisibilityPublic {
		t.Errorf("Expected public visibility, got %s", status.Visibility)
	}

	err, tag := database.ReadTagByName("introductions")
	if err != nil {
		t.Fatalf("ReadTagByName failed: %v", err)
	}
	if tag == nil {
		t.Error("Expected the hashtag to be recorded")
	}
}

func TestInboxDuplicateActivityIsNoOp(t *testing.T) {
	database := setupTestDB(t)
	actor := newRemoteAccount(t, database, "alice", "remote.example")
	jobs := &fakeJobs{}
	processor := newTestProcessor(t, database, jobs)

	noteId := "http://remote.example/statuses/101"
	body := marshalActivity(t, createActivityFor(actor, noteId, "once only"))

	if err := processor.ProcessInbox(context.Background(), body, actor); err != nil {
		t.Fatalf("First ProcessInbox failed: %v", err)
	}
	firstJobs := len(jobs.byType(JobKeywordFilter))

	if err := processor.ProcessInbox(context.Background(), body, actor); err != nil {
		t.Fatalf("Second ProcessInbox failed: %v", err)
	}
	if got := len(jobs.byType(JobKeywordFilter)); got != firstJobs {
		t.Error("A replayed activity must not trigger side effects again")
	}
}

func TestInboxDeleteTombstonesOwnStatus(t *testing.T) {
	database := setupTestDB(t)
	actor := newRemoteAccount(t, database, "alice", "remote.example")
	status := newLocalStatus(t, database, actor, "to be deleted")
	processor := newTestProcessor(t, database, nil)

	body := marshalActivity(t, map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       status.URI + "#delete",
		"type":     "Delete",
		"actor":    actor.ActorURI,
		"object":   status.URI,
	})

	if err := processor.ProcessInbox(context.Background(), body, actor); err != nil {
		t.Fatalf("ProcessInbox failed: %v", err)
	}

	err, reread := database.ReadStatusById(status.Id)
	if err != nil {
		t.Fatalf("ReadStatusById failed: %v", err)
	}
	if reread.DeletedAt.IsZero() {
		t.Error("Expected the status to be tombstoned")
	}
}

func TestInboxDeleteByNonOwnerIsIgnored(t *testing.T) {
	database := setupTestDB(t)
	owner := newRemoteAccount(t, database, "alice", "remote.example")
	other := newRemoteAccount(t, database, "mallory", "elsewhere.example")
	status := newLocalStatus(t, database, owner, "not yours")
	processor := newTestProcessor(t, database, nil)

	body := marshalActivity(t, map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       status.URI + "#delete",
		"type":     "Delete",
		"actor":    other.ActorURI,
		"object":   status.URI,
	})

	if err := processor.ProcessInbox(context.Background(), body, other); err != nil {
		t.Fatalf("ProcessInbox failed: %v", err)
	}

	err, reread := database.ReadStatusById(status.Id)
	if err != nil {
		t.Fatalf("ReadStatusById failed: %v", err)
	}
	if !reread.DeletedAt.IsZero() {
		t.Error("A Delete from a non-owner must not tombstone the status")
	}
}

func TestInboxUpdateOfUnknownNoteCreatesStatus(t *testing.T) {
	database := setupTestDB(t)
	actor := newRemoteAccount(t, database, "alice", "remote.example")
	processor := newTestProcessor(t, database, nil)

	noteId := "http://remote.example/statuses/200"
	body := marshalActivity(t, map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       noteId + "#update-1",
		"type":     "Update",
		"actor":    actor.ActorURI,
		"object": map[string]interface{}{
			"id":           noteId,
			"type":         "Note",
			"attributedTo": actor.ActorURI,
			"content":      "edited before we ever saw it",
			"published":    time.Now().UTC().Format(time.RFC3339),
			"updated":      time.Now().UTC().Format(time.RFC3339),
			"to":           []string{publicCollection},
		},
	})

	if err := processor.ProcessInbox(context.Background(), body, actor); err != nil {
		t.Fatalf("ProcessInbox failed: %v", err)
	}

	err, status := database.ReadStatusByURI(noteId)
	if err != nil {
		t.Fatalf("ReadStatusByURI failed: %v", err)
	}
	if status == nil {
		t.Fatal("First sight of an edited status must store it")
	}
	if status.Text != "edited before we ever saw it" {
		t.Errorf("Unexpected content %q", status.Text)
	}
}

func TestInboxDeleteOfUnknownStatusIsNoOp(t *testing.T) {
	database := setupTestDB(t)
	actor := newRemoteAccount(t, database, "alice", "remote.example")
	processor := newTestProcessor(t, database, nil)

	body := marshalActivity(t, map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       "http://remote.example/statuses/999#delete",
		"type":     "Delete",
		"actor":    actor.ActorURI,
		"object":   "http://remote.example/statuses/999",
	})

	if err := processor.ProcessInbox(context.Background(), body, actor); err != nil {
		t.Errorf("Deleting a status we never saw must be a clean no-op, got %v", err)
	}
}

func TestInboxUndoOfUnknownAnnounceIsNoOp(t *testing.T) {
	database := setupTestDB(t)
	actor := newRemoteAccount(t, database, "alice", "remote.example")
	processor := newTestProcessor(t, database, nil)

	body := marshalActivity(t, map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       "http://remote.example/activities/undo-1",
		"type":     "Undo",
		"actor":    actor.ActorURI,
		"object": map[string]interface{}{
			"id":    "http://remote.example/activities/announce-unknown",
			"type":  "Announce",
			"actor": actor.ActorURI,
		},
	})

	if err := processor.ProcessInbox(context.Background(), body, actor); err != nil {
		t.Errorf("Undoing an unknown boost must be a clean no-op, got %v", err)
	}
}

func TestInboxActorSelfDeleteSuspends(t *testing.T) {
	database := setupTestDB(t)
	actor := newRemoteAccount(t, database, "alice", "remote.example")
	jobs := &fakeJobs{}
	processor := newTestProcessor(t, database, jobs)

	body := marshalActivity(t, map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       actor.ActorURI + "#delete",
		"type":     "Delete",
		"actor":    actor.ActorURI,
		"object":   actor.ActorURI,
	})

	if err := processor.ProcessInbox(context.Background(), body, actor); err != nil {
		t.Fatalf("ProcessInbox failed: %v", err)
	}

	err, reread := database.ReadAccountById(actor.Id)
	if err != nil {
		t.Fatalf("ReadAccountById failed: %v", err)
	}
	if !reread.Suspended() {
		t.Error("Expected the actor to be suspended")
	}
	if len(jobs.byType(JobAccountPurge)) != 1 {
		t.Error("Expected a purge job to be queued")
	}
}

func TestInboxFollowAcceptsAndQueuesReply(t *testing.T) {
	database := setupTestDB(t)
	follower := newRemoteAccount(t, database, "bob", "remote.example")

	local := &domain.Account{
		Id:        uuid.New(),
		Username:  "carol",
		ActorURI:  "https://gomphos.example/users/carol",
		CreatedAt: time.Now(),
	}
	if err := database.CreateAccount(local); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	processor := newTestProcessor(t, database, nil)

	followURI := "http://remote.example/follows/1"
	body := marshalActivity(t, map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       followURI,
		"type":     "Follow",
		"actor":    follower.ActorURI,
		"object":   local.ActorURI,
	})

	if err := processor.ProcessInbox(context.Background(), body, follower); err != nil {
		t.Fatalf("ProcessInbox failed: %v", err)
	}

	err, followers := database.ReadFollowerAccounts(local.Id)
	if err != nil {
		t.Fatalf("ReadFollowerAccounts failed: %v", err)
	}
	if followers == nil || len(*followers) != 1 || (*followers)[0].Id != follower.Id {
		t.Error("Expected the follow to be recorded and accepted")
	}

	err, pending := database.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("ReadPendingDeliveries failed: %v", err)
	}
	if pending == nil || len(*pending) != 1 {
		t.Fatal("Expected one queued Accept delivery")
	}
	if (*pending)[0].InboxURI != follower.InboxURI {
		t.Errorf("Accept queued for %s, want %s", (*pending)[0].InboxURI, follower.InboxURI)
	}
}

func TestAuthenticateEnvelopeRelayedPayload(t *testing.T) {
	database := setupTestDB(t)
	signer, key := newSigningAccount(t)
	if err := database.CreateAccount(signer); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	doc := map[string]interface{}{
		"id":    signer.ActorURI + "/activities/1",
		"type":  "Create",
		"actor": signer.ActorURI,
	}
	if err := SignJsonLd(doc, signer.ActorURI+"#main-key", key); err != nil {
		t.Fatalf("SignJsonLd failed: %v", err)
	}
	body := marshalActivity(t, doc)

	var envelope ActivityEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	var rawDoc map[string]interface{}
	if err := json.Unmarshal(body, &rawDoc); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	processor := newTestProcessor(t, database, nil)

	// Relayed by someone else, the LD signature must vouch for it
	if got := processor.AuthenticateEnvelope(context.Background(), &envelope, rawDoc, "https://relay.example/actor"); got == nil {
		t.Error("Expected the LD signature to authenticate the relayed payload")
	}

	rawDoc["type"] = "Delete"
	if got := processor.AuthenticateEnvelope(context.Background(), &envelope, rawDoc, "https://relay.example/actor"); got != nil {
		t.Error("Expected a tampered relayed payload to be rejected")
	}
}
