package db

import (
	"database/sql"
	"time"

	"github.com/gomphos/gomphos/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertActivity = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri,
		raw_json, processed, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActivity = `UPDATE activities SET raw_json = ?, processed = ? WHERE id = ?`
	sqlSelectActivityByURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json,
		processed, local, created_at FROM activities WHERE activity_uri = ?`
	sqlSelectActivityByObjectURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json,
		processed, local, created_at FROM activities WHERE object_uri = ?`

	sqlInsertDelivery = `INSERT INTO delivery_queue(id, inbox_uri, account_id, activity_json, attempts,
		next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, inbox_uri, account_id, activity_json, attempts, next_retry_at,
		created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery        = `DELETE FROM delivery_queue WHERE id = ?`
)

func scanActivity(row interface{ Scan(...any) error }) (error, *domain.Activity) {
	a := &domain.Activity{}
	var createdAt sql.NullTime

	err := row.Scan(&a.Id, &a.ActivityURI, &a.ActivityType, &a.ActorURI, &a.ObjectURI,
		&a.RawJSON, &a.Processed, &a.Local, &createdAt)
	if err != nil {
		return err, nil
	}
	if createdAt.Valid {
		a.CreatedAt = createdAt.Time
	}

	return nil, a
}

func (db *DB) CreateActivity(a *domain.Activity) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity, a.Id.String(), a.ActivityURI, a.ActivityType,
			a.ActorURI, a.ObjectURI, a.RawJSON, a.Processed, a.Local, a.CreatedAt)
		return err
	})
}

func (db *DB) UpdateActivity(a *domain.Activity) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivity, a.RawJSON, a.Processed, a.Id.String())
		return err
	})
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.Activity) {
	return scanActivity(db.db.QueryRow(sqlSelectActivityByURI, uri))
}

func (db *DB) ReadActivityByObjectURI(uri string) (error, *domain.Activity) {
	return scanActivity(db.db.QueryRow(sqlSelectActivityByObjectURI, uri))
}

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery, item.Id.String(), item.InboxURI, item.AccountId.String(),
			item.ActivityJSON, item.Attempts, item.NextRetryAt, item.CreatedAt)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		item := domain.DeliveryQueueItem{}
		var nextRetryAt, createdAt sql.NullTime
		if err := rows.Scan(&item.Id, &item.InboxURI, &item.AccountId, &item.ActivityJSON,
			&item.Attempts, &nextRetryAt, &createdAt); err != nil {
			return err, nil
		}
		if nextRetryAt.Valid {
			item.NextRetryAt = nextRetryAt.Time
		}
		if createdAt.Valid {
			item.CreatedAt = createdAt.Time
		}
		items = append(items, item)
	}

	return rows.Err(), &items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}
