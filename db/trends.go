package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Trend usage history. Each use is one row per (subject, day, account),
// so a day bucket's "usage" is the count of distinct accounts, and
// recording the same account twice in one day is a no-op.
const (
	sqlInsertTrendUsage = `INSERT OR IGNORE INTO trend_usages(subject_type, subject_id, day, account_id) VALUES (?, ?, ?, ?)`
	sqlSelectTrendUsage = `SELECT COUNT(*) FROM trend_usages WHERE subject_type = ? AND subject_id = ? AND day = ?`
	sqlSelectTrendUsedIds = `SELECT DISTINCT subject_id FROM trend_usages WHERE subject_type = ? AND day >= ?`
	sqlDeleteOldTrendUsages = `DELETE FROM trend_usages WHERE day < ?`

	sqlUpdateTagMaxScore  = `UPDATE tags SET max_score = ?, max_score_at = ? WHERE id = ?`
	sqlUpdateCardMaxScore = `UPDATE preview_cards SET max_score = ?, max_score_at = ? WHERE id = ?`
	sqlSelectTagTrendFields  = `SELECT trendable, max_score, max_score_at FROM tags WHERE id = ?`
	sqlSelectCardTrendFields = `SELECT trendable, max_score, max_score_at FROM preview_cards WHERE id = ?`
	sqlTouchTagReview = `UPDATE tags SET requested_review_at = ? WHERE id = ?`
)

// Trend subject types
const (
	TrendSubjectTag  = "tag"
	TrendSubjectLink = "link"
)

func trendDay(at time.Time) int64 {
	return at.UTC().Unix() / 86400
}

// RecordTrendUsage counts one account's use of a subject in the day
// bucket containing at
func (db *DB) RecordTrendUsage(subjectType string, subjectId int64, accountId uuid.UUID, at time.Time) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertTrendUsage, subjectType, subjectId, trendDay(at), accountId.String())
		return err
	})
}

// TrendUsage returns the distinct-account usage of a subject in the day
// bucket containing at
func (db *DB) TrendUsage(subjectType string, subjectId int64, at time.Time) (error, float64) {
	var count int64
	err := db.db.QueryRow(sqlSelectTrendUsage, subjectType, subjectId, trendDay(at)).Scan(&count)
	if err != nil {
		return err, 0
	}
	return nil, float64(count)
}

// TrendUsedIdsSince returns subjects touched on or after since
func (db *DB) TrendUsedIdsSince(subjectType string, since time.Time) (error, []int64) {
	rows, err := db.db.Query(sqlSelectTrendUsedIds, subjectType, trendDay(since))
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err, nil
		}
		ids = append(ids, id)
	}

	return rows.Err(), ids
}

// TrimTrendUsages drops day buckets older than before
func (db *DB) TrimTrendUsages(before time.Time) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteOldTrendUsages, trendDay(before))
		return err
	})
}

// ReadTrendFields returns the trendable flag and persisted max score of
// a subject
func (db *DB) ReadTrendFields(subjectType string, subjectId int64) (error, bool, float64, time.Time) {
	query := sqlSelectTagTrendFields
	if subjectType == TrendSubjectLink {
		query = sqlSelectCardTrendFields
	}

	var trendable bool
	var maxScore float64
	var maxScoreAt sql.NullTime
	err := db.db.QueryRow(query, subjectId).Scan(&trendable, &maxScore, &maxScoreAt)
	if err != nil {
		return err, false, 0, time.Time{}
	}

	var at time.Time
	if maxScoreAt.Valid {
		at = maxScoreAt.Time
	}

	return nil, trendable, maxScore, at
}

// UpdateTrendMaxScore persists a new rolling maximum
func (db *DB) UpdateTrendMaxScore(subjectType string, subjectId int64, score float64, at time.Time) error {
	query := sqlUpdateTagMaxScore
	if subjectType == TrendSubjectLink {
		query = sqlUpdateCardMaxScore
	}
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(query, score, at, subjectId)
		return err
	})
}

// TouchTagRequestedReview marks a tag as awaiting moderator review
func (db *DB) TouchTagRequestedReview(tagId int64, at time.Time) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlTouchTagReview, at, tagId)
		return err
	})
}
