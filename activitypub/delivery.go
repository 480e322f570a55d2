package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gomphos/gomphos/db"
	"github.com/gomphos/gomphos/domain"
)

// FailureTracker records delivery outcomes per remote host, so inboxes
// of hosts that have been failing for days get skipped instead of
// retried forever. Satisfied by redisx.FailureTracker.
type FailureTracker interface {
	TrackSuccess(ctx context.Context, host string)
	TrackFailure(ctx context.Context, host string)
	Unavailable(ctx context.Context, host string) bool
}

var backoffMinutes = []int{1, 5, 15, 60, 240, 1440}

const maxDeliveryAttempts = 10

// DeliveryWorker drains the persistent delivery queue, signing each
// request with the queued account's key.
type DeliveryWorker struct {
	db       *db.DB
	failures FailureTracker
	client   *http.Client
}

func NewDeliveryWorker(database *db.DB, failures FailureTracker) *DeliveryWorker {
	return &DeliveryWorker{
		db:       database,
		failures: failures,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Start runs the worker until ctx is cancelled.
func (w *DeliveryWorker) Start(ctx context.Context) {
	log.Println("DeliveryWorker: started")
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("DeliveryWorker: stopped")
			return
		case <-ticker.C:
			w.processQueue(ctx)
		}
	}
}

func (w *DeliveryWorker) processQueue(ctx context.Context) {
	err, items := w.db.ReadPendingDeliveries(50)
	if err != nil {
		log.Printf("DeliveryWorker: failed to read queue: %v", err)
		return
	}
	if items == nil || len(*items) == 0 {
		return
	}

	log.Printf("DeliveryWorker: processing %d pending deliveries", len(*items))

	for _, item := range *items {
		if ctx.Err() != nil {
			return
		}

		host := hostOf(item.InboxURI)
		if w.failures != nil && w.failures.Unavailable(ctx, host) {
			w.reschedule(&item, fmt.Errorf("host %s marked unavailable", host))
			continue
		}

		if err := w.deliver(ctx, &item); err != nil {
			if w.failures != nil {
				w.failures.TrackFailure(ctx, host)
			}
			w.reschedule(&item, err)
			continue
		}

		if w.failures != nil {
			w.failures.TrackSuccess(ctx, host)
		}
		log.Printf("DeliveryWorker: delivered to %s", item.InboxURI)
		if err := w.db.DeleteDelivery(item.Id); err != nil {
			log.Printf("DeliveryWorker: failed to dequeue %s: %v", item.Id, err)
		}
	}
}

func (w *DeliveryWorker) reschedule(item *domain.DeliveryQueueItem, cause error) {
	item.Attempts++
	if item.Attempts >= maxDeliveryAttempts {
		log.Printf("DeliveryWorker: giving up on %s after %d attempts: %v", item.InboxURI, item.Attempts, cause)
		if err := w.db.DeleteDelivery(item.Id); err != nil {
			log.Printf("DeliveryWorker: failed to drop %s: %v", item.Id, err)
		}
		return
	}

	minutes := backoffMinutes[min(item.Attempts-1, len(backoffMinutes)-1)]
	item.NextRetryAt = time.Now().Add(time.Duration(minutes) * time.Minute)
	log.Printf("DeliveryWorker: delivery to %s failed (attempt %d), retry in %dm: %v",
		item.InboxURI, item.Attempts, minutes, cause)
	if err := w.db.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt); err != nil {
		log.Printf("DeliveryWorker: failed to reschedule %s: %v", item.Id, err)
	}
}

func (w *DeliveryWorker) deliver(ctx context.Context, item *domain.DeliveryQueueItem) error {
	err, signer := w.db.ReadAccountById(item.AccountId)
	if err != nil || signer == nil {
		return fmt.Errorf("failed to load signing account %s: %w", item.AccountId, err)
	}

	privateKey, err := ParsePrivateKey(signer.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.InboxURI, bytes.NewReader([]byte(item.ActivityJSON)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", activityJSONType)
	req.Header.Set("Accept", activityJSONType)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	keyId := signer.ActorURI + "#main-key"
	if err := SignRequest(req, []byte(item.ActivityJSON), privateKey, keyId); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status %d", resp.StatusCode)
	}

	return nil
}
