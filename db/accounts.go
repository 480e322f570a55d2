package db

import (
	"database/sql"
	"time"

	"github.com/gomphos/gomphos/domain"
	"github.com/google/uuid"
)

const (
	sqlAccountColumns = `id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri,
		shared_inbox_uri, public_key_pem, private_key_pem, avatar_url, suspended_at, suspension_origin,
		last_webfingered_at, created_at`

	sqlInsertAccount = `INSERT INTO accounts(id, username, domain, actor_uri, display_name, summary,
		inbox_uri, outbox_uri, shared_inbox_uri, public_key_pem, private_key_pem, avatar_url,
		last_webfingered_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateAccount = `UPDATE accounts SET username = ?, domain = ?, display_name = ?, summary = ?,
		inbox_uri = ?, outbox_uri = ?, shared_inbox_uri = ?, public_key_pem = ?, avatar_url = ?,
		last_webfingered_at = ? WHERE actor_uri = ?`

	sqlSelectAccountByHandle   = `SELECT ` + sqlAccountColumns + ` FROM accounts WHERE username = ? COLLATE NOCASE AND domain = ? COLLATE NOCASE`
	sqlSelectAccountByActorURI = `SELECT ` + sqlAccountColumns + ` FROM accounts WHERE actor_uri = ?`
	sqlSelectAccountById       = `SELECT ` + sqlAccountColumns + ` FROM accounts WHERE id = ?`
	sqlSuspendAccount          = `UPDATE accounts SET suspended_at = ?, suspension_origin = ? WHERE id = ? AND suspended_at IS NULL`

	sqlInsertDomainBlock = `INSERT INTO domain_blocks(id, domain, reject_media, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectDomainBlock = `SELECT COUNT(*) FROM domain_blocks WHERE domain = ? COLLATE NOCASE`
	sqlSelectRejectMedia = `SELECT reject_media FROM domain_blocks WHERE domain = ? COLLATE NOCASE`

	sqlInsertFollow           = `INSERT INTO follows(id, account_id, target_account_id, uri, accepted, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlDeleteFollowByURI      = `DELETE FROM follows WHERE uri = ?`
	sqlDeleteFollowsByAccount = `DELETE FROM follows WHERE account_id = ? OR target_account_id = ?`
	sqlAcceptFollowByURI     = `UPDATE follows SET accepted = 1 WHERE uri = ?`
	sqlSelectFollowerAccounts = `SELECT ` + sqlAccountColumnsPrefixed + ` FROM accounts
		INNER JOIN follows ON follows.account_id = accounts.id
		WHERE follows.target_account_id = ? AND follows.accepted = 1`
	sqlAccountColumnsPrefixed = `accounts.id, accounts.username, accounts.domain, accounts.actor_uri,
		accounts.display_name, accounts.summary, accounts.inbox_uri, accounts.outbox_uri,
		accounts.shared_inbox_uri, accounts.public_key_pem, accounts.private_key_pem, accounts.avatar_url,
		accounts.suspended_at, accounts.suspension_origin, accounts.last_webfingered_at, accounts.created_at`
)

func scanAccount(row interface{ Scan(...any) error }) (error, *domain.Account) {
	acc := &domain.Account{}
	var suspendedAt, webfingeredAt, createdAt sql.NullTime

	err := row.Scan(&acc.Id, &acc.Username, &acc.Domain, &acc.ActorURI, &acc.DisplayName,
		&acc.Summary, &acc.InboxURI, &acc.OutboxURI, &acc.SharedInboxURI, &acc.PublicKeyPem,
		&acc.PrivateKeyPem, &acc.AvatarURL, &suspendedAt, &acc.SuspensionOrigin, &webfingeredAt, &createdAt)
	if err != nil {
		return err, nil
	}

	if suspendedAt.Valid {
		acc.SuspendedAt = suspendedAt.Time
	}
	if webfingeredAt.Valid {
		acc.LastWebfingeredAt = webfingeredAt.Time
	}
	if createdAt.Valid {
		acc.CreatedAt = createdAt.Time
	}

	return nil, acc
}

func (db *DB) CreateAccount(acc *domain.Account) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount, acc.Id.String(), acc.Username, acc.Domain, acc.ActorURI,
			acc.DisplayName, acc.Summary, acc.InboxURI, acc.OutboxURI, acc.SharedInboxURI,
			acc.PublicKeyPem, acc.PrivateKeyPem, acc.AvatarURL, acc.LastWebfingeredAt, acc.CreatedAt)
		return err
	})
}

func (db *DB) UpdateAccount(acc *domain.Account) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateAccount, acc.Username, acc.Domain, acc.DisplayName, acc.Summary,
			acc.InboxURI, acc.OutboxURI, acc.SharedInboxURI, acc.PublicKeyPem, acc.AvatarURL,
			acc.LastWebfingeredAt, acc.ActorURI)
		return err
	})
}

// UpsertAccount creates the account, falling back to an update when the
// actor URI is already known
func (db *DB) UpsertAccount(acc *domain.Account) error {
	err := db.CreateAccount(acc)
	if err != nil {
		return db.UpdateAccount(acc)
	}
	return nil
}

// ReadAccountByHandle looks up by the (username, domain) pair, domain
// empty for local accounts
func (db *DB) ReadAccountByHandle(username, dom string) (error, *domain.Account) {
	row := db.db.QueryRow(sqlSelectAccountByHandle, username, dom)
	return scanAccount(row)
}

func (db *DB) ReadAccountByActorURI(uri string) (error, *domain.Account) {
	row := db.db.QueryRow(sqlSelectAccountByActorURI, uri)
	return scanAccount(row)
}

func (db *DB) ReadAccountById(id uuid.UUID) (error, *domain.Account) {
	row := db.db.QueryRow(sqlSelectAccountById, id.String())
	return scanAccount(row)
}

func (db *DB) ReadAccountByIdTx(tx *sql.Tx, id uuid.UUID) (error, *domain.Account) {
	row := tx.QueryRow(sqlSelectAccountById, id.String())
	return scanAccount(row)
}

// SuspendAccount soft-deactivates the account; already-suspended
// accounts are left untouched
func (db *DB) SuspendAccount(id uuid.UUID, origin string) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlSuspendAccount, time.Now(), origin, id.String())
		return err
	})
}

func (db *DB) CreateDomainBlock(block *domain.DomainBlock) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDomainBlock, block.Id.String(), block.Domain, block.RejectMedia, block.CreatedAt)
		return err
	})
}

func (db *DB) IsDomainBlocked(dom string) (error, bool) {
	if dom == "" {
		return nil, false
	}
	var count int
	err := db.db.QueryRow(sqlSelectDomainBlock, dom).Scan(&count)
	if err != nil {
		return err, false
	}
	return nil, count > 0
}

// DomainRejectsMedia reports whether media from the domain should not
// be downloaded
func (db *DB) DomainRejectsMedia(dom string) (error, bool) {
	if dom == "" {
		return nil, false
	}
	var reject bool
	err := db.db.QueryRow(sqlSelectRejectMedia, dom).Scan(&reject)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		return err, false
	}
	return nil, reject
}

func (db *DB) CreateFollow(follow *domain.Follow) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow, follow.Id.String(), follow.AccountId.String(),
			follow.TargetAccountId.String(), follow.URI, follow.Accepted, follow.CreatedAt)
		return err
	})
}

func (db *DB) DeleteFollowByURI(uri string) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByURI, uri)
		return err
	})
}

// DeleteFollowsForAccount removes every follow relation the account
// participates in, either side
func (db *DB) DeleteFollowsForAccount(accountId uuid.UUID) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowsByAccount, accountId.String(), accountId.String())
		return err
	})
}

func (db *DB) AcceptFollowByURI(uri string) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptFollowByURI, uri)
		return err
	})
}

// ReadFollowerAccounts returns the accepted followers of an account
func (db *DB) ReadFollowerAccounts(targetId uuid.UUID) (error, *[]domain.Account) {
	rows, err := db.db.Query(sqlSelectFollowerAccounts, targetId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		err, acc := scanAccount(rows)
		if err != nil {
			return err, nil
		}
		accounts = append(accounts, *acc)
	}

	return rows.Err(), &accounts
}
