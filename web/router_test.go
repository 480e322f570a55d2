package web

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gomphos/gomphos/activitypub"
	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/domain"
	"github.com/gomphos/gomphos/redisx"
	"github.com/gomphos/gomphos/trends"
	"github.com/gomphos/gomphos/util"
	"github.com/google/uuid"
)

type noopLocker struct{}

func (noopLocker) WithLock(_ context.Context, _ string, _ time.Duration, fn func() error) error {
	return fn()
}

type noopJobs struct{}

func (noopJobs) Enqueue(context.Context, string, map[string]string) error { return nil }
func (noopJobs) EnqueueIn(context.Context, string, map[string]string, time.Duration) error {
	return nil
}
func (noopJobs) EnqueueUnique(context.Context, string, map[string]string, string, time.Duration) error {
	return nil
}

type noopEvents struct{}

func (noopEvents) Publish(context.Context, string, string, interface{}) error { return nil }

// fakeRankedSet keeps scored members in memory instead of redis.
// It must keep satisfying the engine's store interface.
var _ trends.RankedSet = (*fakeRankedSet)(nil)

type fakeRankedSet struct {
	mu   sync.Mutex
	sets map[string]map[string]float64
}

func newFakeRankedSet() *fakeRankedSet {
	return &fakeRankedSet{sets: make(map[string]map[string]float64)}
}

func (f *fakeRankedSet) Add(_ context.Context, set, member string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[set] == nil {
		f.sets[set] = make(map[string]float64)
	}
	f.sets[set][member] = score
	return nil
}

func (f *fakeRankedSet) Remove(_ context.Context, set string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, member := range members {
		delete(f.sets[set], member)
	}
	return nil
}

func (f *fakeRankedSet) List(_ context.Context, set string, limit int64) ([]redisx.ScoredMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []redisx.ScoredMember
	for member, score := range f.sets[set] {
		out = append(out, redisx.ScoredMember{Member: member, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func testConfig() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.LocalDomain = "gomphos.example"
	conf.Conf.Trends.Threshold = 5
	conf.Conf.Trends.ReviewThreshold = 10
	conf.Conf.Trends.MaxScoreCooldownHours = 48
	conf.Conf.Trends.MaxScoreHalflifeHours = 4
	return conf
}

func newTestServer(t *testing.T) (*Server, *db.DB, *fakeRankedSet) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	conf := testConfig()
	resolver := activitypub.NewResolver(database, noopLocker{}, noopJobs{}, conf)
	outbox := activitypub.NewOutbox(database, conf)
	updater := activitypub.NewStatusUpdater(database, noopLocker{}, noopJobs{}, resolver, noopEvents{})
	processor := activitypub.NewProcessor(database, conf, resolver, updater, outbox, noopJobs{}, noopEvents{})
	sets := newFakeRankedSet()
	engine := trends.NewEngine(database, sets, conf)

	return NewServer(database, conf, resolver, processor, outbox, engine), database, sets
}

func newLocalAccount(t *testing.T, database *db.DB, username string) *domain.Account {
	t.Helper()
	acc := &domain.Account{
		Id:           uuid.New(),
		Username:     username,
		ActorURI:     "https://gomphos.example/users/" + username,
		InboxURI:     "https://gomphos.example/users/" + username + "/inbox",
		PublicKeyPem: "-----BEGIN PUBLIC KEY-----\ntest\n-----END PUBLIC KEY-----",
		CreatedAt:    time.Now(),
	}
	if err := database.CreateAccount(acc); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return acc
}

func newLocalStatus(t *testing.T, database *db.DB, acc *domain.Account, text string) *domain.Status {
	t.Helper()
	status := &domain.Status{
		Id:         uuid.New(),
		AccountId:  acc.Id,
		Text:       text,
		Visibility: domain.VisibilityPublic,
		Local:      true,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	status.URI = "https://gomphos.example/statuses/" + status.Id.String()
	if err := database.CreateStatus(status); err != nil {
		t.Fatalf("CreateStatus failed: %v", err)
	}
	return status
}

func doRequest(server *Server, method, target string, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	server.Router().ServeHTTP(w, req)
	return w
}

func TestWebfingerKnownAccount(t *testing.T) {
	server, database, _ := newTestServer(t)
	newLocalAccount(t, database, "alice")

	w := doRequest(server, "GET", "/.well-known/webfinger?resource=acct:alice@gomphos.example", "")

	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp activitypub.WebfingerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse JRD: %v", err)
	}
	if resp.Subject != "acct:alice@gomphos.example" {
		t.Errorf("Unexpected subject: %s", resp.Subject)
	}
	if resp.SelfLink() != "https://gomphos.example/users/alice" {
		t.Errorf("Unexpected self link: %s", resp.SelfLink())
	}
}

func TestWebfingerUnknownAccount(t *testing.T) {
	server, _, _ := newTestServer(t)

	w := doRequest(server, "GET", "/.well-known/webfinger?resource=acct:nobody@gomphos.example", "")

	if w.Code != 404 {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestWebfingerForeignDomainRejected(t *testing.T) {
	server, database, _ := newTestServer(t)
	newLocalAccount(t, database, "alice")

	w := doRequest(server, "GET", "/.well-known/webfinger?resource=acct:alice@elsewhere.example", "")

	if w.Code != 404 {
		t.Errorf("Expected 404 for foreign domain, got %d", w.Code)
	}
}

func TestAccountLookupLocalAccount(t *testing.T) {
	server, database, _ := newTestServer(t)
	newLocalAccount(t, database, "alice")

	w := doRequest(server, "GET", "/api/accounts/lookup?acct=alice@gomphos.example", "")

	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["username"] != "alice" {
		t.Errorf("Unexpected username: %v", resp["username"])
	}
	if resp["uri"] != "https://gomphos.example/users/alice" {
		t.Errorf("Unexpected actor URI: %v", resp["uri"])
	}
}

func TestAccountLookupUnknownAccount(t *testing.T) {
	server, _, _ := newTestServer(t)

	w := doRequest(server, "GET", "/api/accounts/lookup?acct=nobody@gomphos.example", "")

	if w.Code != 404 {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestAccountLookupMissingParameter(t *testing.T) {
	server, _, _ := newTestServer(t)

	w := doRequest(server, "GET", "/api/accounts/lookup", "")

	if w.Code != 400 {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestActorDocument(t *testing.T) {
	server, database, _ := newTestServer(t)
	acc := newLocalAccount(t, database, "alice")

	w := doRequest(server, "GET", "/users/alice", "")

	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var actor map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &actor); err != nil {
		t.Fatalf("Failed to parse actor document: %v", err)
	}
	if actor["id"] != "https://gomphos.example/users/alice" {
		t.Errorf("Unexpected actor id: %v", actor["id"])
	}
	if actor["type"] != "Person" {
		t.Errorf("Unexpected actor type: %v", actor["type"])
	}
	key, ok := actor["publicKey"].(map[string]interface{})
	if !ok {
		t.Fatal("Actor document is missing publicKey")
	}
	if key["publicKeyPem"] != acc.PublicKeyPem {
		t.Errorf("Unexpected public key pem: %v", key["publicKeyPem"])
	}
	endpoints, ok := actor["endpoints"].(map[string]interface{})
	if !ok || endpoints["sharedInbox"] != "https://gomphos.example/inbox" {
		t.Errorf("Unexpected endpoints: %v", actor["endpoints"])
	}
}

func TestStatusObjectServed(t *testing.T) {
	server, database, _ := newTestServer(t)
	acc := newLocalAccount(t, database, "alice")
	status := newLocalStatus(t, database, acc, "hello fediverse")

	w := doRequest(server, "GET", "/statuses/"+status.Id.String(), "")

	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var note map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &note); err != nil {
		t.Fatalf("Failed to parse note: %v", err)
	}
	if note["id"] != status.URI {
		t.Errorf("Unexpected note id: %v", note["id"])
	}
	if note["content"] != "hello fediverse" {
		t.Errorf("Unexpected content: %v", note["content"])
	}
}

func TestDeletedStatusNotServed(t *testing.T) {
	server, database, _ := newTestServer(t)
	acc := newLocalAccount(t, database, "alice")
	status := newLocalStatus(t, database, acc, "soon gone")

	if err := database.MarkStatusDeleted(status.Id); err != nil {
		t.Fatalf("MarkStatusDeleted failed: %v", err)
	}

	w := doRequest(server, "GET", "/statuses/"+status.Id.String(), "")

	if w.Code != 404 {
		t.Errorf("Expected 404 for deleted status, got %d", w.Code)
	}
}

func TestInboxRejectsUnsignedActivity(t *testing.T) {
	server, database, _ := newTestServer(t)

	// Cache the remote actor so authentication fails on the missing
	// signature, not on an attempted network fetch.
	remote := &domain.Account{
		Id:                uuid.New(),
		Username:          "bob",
		Domain:            "elsewhere.example",
		ActorURI:          "https://elsewhere.example/users/bob",
		InboxURI:          "https://elsewhere.example/users/bob/inbox",
		LastWebfingeredAt: time.Now(),
		CreatedAt:         time.Now(),
	}
	if err := database.CreateAccount(remote); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	activity := `{"id":"https://elsewhere.example/activities/1","type":"Create","actor":"https://elsewhere.example/users/bob","object":{}}`
	w := doRequest(server, "POST", "/inbox", activity)

	if w.Code != 401 {
		t.Errorf("Expected 401 for unsigned activity, got %d", w.Code)
	}
}

func TestInboxRejectsGarbage(t *testing.T) {
	server, _, _ := newTestServer(t)

	w := doRequest(server, "POST", "/inbox", "not json")

	if w.Code != 400 {
		t.Errorf("Expected 400 for unparseable body, got %d", w.Code)
	}
}

func TestFeedListsLocalStatuses(t *testing.T) {
	server, database, _ := newTestServer(t)
	acc := newLocalAccount(t, database, "alice")
	newLocalStatus(t, database, acc, "first post")

	w := doRequest(server, "GET", "/feed", "")

	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "first post") {
		t.Errorf("Feed is missing the status text: %s", body)
	}
	if !strings.Contains(body, "<rss") {
		t.Errorf("Feed is not RSS: %s", body)
	}
}

func TestTrendingTagsEndpoint(t *testing.T) {
	server, database, sets := newTestServer(t)

	var tagId int64
	err := database.WithTransaction(func(tx *sql.Tx) error {
		var txErr error
		tagId, txErr = database.FindOrCreateTagTx(tx, "golang")
		return txErr
	})
	if err != nil {
		t.Fatalf("FindOrCreateTagTx failed: %v", err)
	}

	if err := sets.Add(context.Background(), trends.SubjectTag+":"+trends.SetAllowed,
		strconv.FormatInt(tagId, 10), 42); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	w := doRequest(server, "GET", "/api/trends/tags", "")

	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var out []struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to parse trends: %v", err)
	}
	if len(out) != 1 || out[0].Name != "golang" || out[0].Score != 42 {
		t.Errorf("Unexpected trends payload: %+v", out)
	}
}

func TestVerifyDigest(t *testing.T) {
	body := []byte(`{"type":"Create"}`)
	req := httptest.NewRequest("POST", "/inbox", nil)

	if err := verifyDigest(req, body); err == nil {
		t.Error("Expected error for missing digest header")
	}

	sum := sha256.Sum256(body)
	req.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(sum[:]))
	if err := verifyDigest(req, body); err != nil {
		t.Errorf("Expected valid digest to verify, got %v", err)
	}

	req.Header.Set("Digest", "SHA-256=deadbeef")
	if err := verifyDigest(req, body); err == nil {
		t.Error("Expected error for mismatched digest")
	}
}
