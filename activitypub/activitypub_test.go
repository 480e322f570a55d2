package activitypub

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/domain"
	"github.com/gomphos/gomphos/util"
	"github.com/google/uuid"
)

// fakeLocker runs the callback inline, or refuses every lock when busy
// is set.
type fakeLocker struct {
	busy bool
}

func (f *fakeLocker) WithLock(_ context.Context, _ string, _ time.Duration, fn func() error) error {
	if f.busy {
		return domain.ErrRaceCondition
	}
	return fn()
}

type enqueuedJob struct {
	Type      string
	Args      map[string]string
	Delay     time.Duration
	UniqueKey string
}

// fakeJobs records enqueued jobs instead of touching redis.
type fakeJobs struct {
	mu   sync.Mutex
	jobs []enqueuedJob
}

func (f *fakeJobs) Enqueue(_ context.Context, jobType string, args map[string]string) error {
	return f.record(enqueuedJob{Type: jobType, Args: args})
}

func (f *fakeJobs) EnqueueIn(_ context.Context, jobType string, args map[string]string, delay time.Duration) error {
	return f.record(enqueuedJob{Type: jobType, Args: args, Delay: delay})
}

func (f *fakeJobs) EnqueueUnique(_ context.Context, jobType string, args map[string]string, uniqueKey string, _ time.Duration) error {
	return f.record(enqueuedJob{Type: jobType, Args: args, UniqueKey: uniqueKey})
}

func (f *fakeJobs) record(job enqueuedJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeJobs) byType(jobType string) []enqueuedJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []enqueuedJob
	for _, job := range f.jobs {
		if job.Type == jobType {
			out = append(out, job)
		}
	}
	return out
}

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func testConfig() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.LocalDomain = "gomphos.example"
	return conf
}

// newTestResolver wires a resolver against plain-http test servers.
func newTestResolver(database *db.DB, jobs Jobs, client *http.Client) *Resolver {
	r := NewResolver(database, &fakeLocker{}, jobs, testConfig())
	r.scheme = "http"
	if client != nil {
		r.client = client
	}
	return r
}

func newRemoteAccount(t *testing.T, database *db.DB, username, dom string) *domain.Account {
	t.Helper()
	acc := &domain.Account{
		Id:                uuid.New(),
		Username:          username,
		Domain:            dom,
		ActorURI:          "http://" + dom + "/users/" + username,
		InboxURI:          "http://" + dom + "/users/" + username + "/inbox",
		LastWebfingeredAt: time.Now(),
		CreatedAt:         time.Now(),
	}
	if err := database.CreateAccount(acc); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return acc
}

func newLocalStatus(t *testing.T, database *db.DB, account *domain.Account, text string) *domain.Status {
	t.Helper()
	status := &domain.Status{
		Id:        uuid.New(),
		URI:       account.ActorURI + "/statuses/" + uuid.NewString(),
		AccountId: account.Id,
		Text:      text,
		Visibility: domain.VisibilityPublic,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	if err := database.CreateStatus(status); err != nil {
		t.Fatalf("CreateStatus failed: %v", err)
	}
	return status
}
