package db

import (
	"database/sql"
	"encoding/json"

	"github.com/gomphos/gomphos/domain"
	"github.com/google/uuid"
)

const (
	sqlPollColumns = `id, status_id, account_id, options, multiple, expires_at, cached_tallies,
		voters_count, last_fetched_at, created_at`

	sqlInsertPoll = `INSERT INTO polls(id, status_id, account_id, options, multiple, expires_at,
		cached_tallies, voters_count, last_fetched_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdatePoll = `UPDATE polls SET options = ?, multiple = ?, expires_at = ?, cached_tallies = ?,
		voters_count = ?, last_fetched_at = ? WHERE id = ?`

	sqlSelectPollByStatusId = `SELECT ` + sqlPollColumns + ` FROM polls WHERE status_id = ?`
	sqlDeletePoll           = `DELETE FROM polls WHERE id = ?`

	sqlInsertPollVote  = `INSERT INTO poll_votes(id, poll_id, account_id, choice, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlDeletePollVotes = `DELETE FROM poll_votes WHERE poll_id = ?`
	sqlCountPollVotes  = `SELECT COUNT(*) FROM poll_votes WHERE poll_id = ?`
)

func scanPoll(row interface{ Scan(...any) error }) (error, *domain.Poll) {
	p := &domain.Poll{}
	var options, tallies string
	var expiresAt, fetchedAt, createdAt sql.NullTime

	err := row.Scan(&p.Id, &p.StatusId, &p.AccountId, &options, &p.Multiple, &expiresAt,
		&tallies, &p.VotersCount, &fetchedAt, &createdAt)
	if err != nil {
		return err, nil
	}

	if err := json.Unmarshal([]byte(options), &p.Options); err != nil {
		return err, nil
	}
	if err := json.Unmarshal([]byte(tallies), &p.CachedTallies); err != nil {
		return err, nil
	}

	if expiresAt.Valid {
		p.ExpiresAt = expiresAt.Time
	}
	if fetchedAt.Valid {
		p.LastFetchedAt = fetchedAt.Time
	}
	if createdAt.Valid {
		p.CreatedAt = createdAt.Time
	}

	return nil, p
}

func marshalPollFields(p *domain.Poll) (string, string, error) {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return "", "", err
	}
	tallies, err := json.Marshal(p.CachedTallies)
	if err != nil {
		return "", "", err
	}
	return string(options), string(tallies), nil
}

func (db *DB) CreatePollTx(tx *sql.Tx, p *domain.Poll) error {
	options, tallies, err := marshalPollFields(p)
	if err != nil {
		return err
	}
	_, err = tx.Exec(sqlInsertPoll, p.Id.String(), p.StatusId.String(), p.AccountId.String(),
		options, p.Multiple, nullableTime(p.ExpiresAt), tallies, p.VotersCount,
		nullableTime(p.LastFetchedAt), p.CreatedAt)
	return err
}

func (db *DB) CreatePoll(p *domain.Poll) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		return db.CreatePollTx(tx, p)
	})
}

func (db *DB) UpdatePollTx(tx *sql.Tx, p *domain.Poll) error {
	options, tallies, err := marshalPollFields(p)
	if err != nil {
		return err
	}
	_, err = tx.Exec(sqlUpdatePoll, options, p.Multiple, nullableTime(p.ExpiresAt), tallies,
		p.VotersCount, nullableTime(p.LastFetchedAt), p.Id.String())
	return err
}

func (db *DB) ReadPollByStatusIdTx(tx *sql.Tx, statusId uuid.UUID) (error, *domain.Poll) {
	return scanPoll(tx.QueryRow(sqlSelectPollByStatusId, statusId.String()))
}

func (db *DB) ReadPollByStatusId(statusId uuid.UUID) (error, *domain.Poll) {
	return scanPoll(db.db.QueryRow(sqlSelectPollByStatusId, statusId.String()))
}

// DeletePollTx removes the poll and all its votes
func (db *DB) DeletePollTx(tx *sql.Tx, pollId uuid.UUID) error {
	if _, err := tx.Exec(sqlDeletePollVotes, pollId.String()); err != nil {
		return err
	}
	_, err := tx.Exec(sqlDeletePoll, pollId.String())
	return err
}

// DeletePollVotesTx invalidates all cast votes, used when the option
// set changes structurally
func (db *DB) DeletePollVotesTx(tx *sql.Tx, pollId uuid.UUID) error {
	_, err := tx.Exec(sqlDeletePollVotes, pollId.String())
	return err
}

func (db *DB) CreatePollVote(v *domain.PollVote) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPollVote, v.Id.String(), v.PollId.String(), v.AccountId.String(), v.Choice, v.CreatedAt)
		return err
	})
}

func (db *DB) CountPollVotes(pollId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountPollVotes, pollId.String()).Scan(&count)
	return err, count
}
