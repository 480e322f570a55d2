package db

import (
	"database/sql"
	"time"

	"github.com/gomphos/gomphos/domain"
	"github.com/google/uuid"
)

const (
	sqlStatusColumns = `id, uri, account_id, in_reply_to_uri, text, spoiler_text, visibility,
		sensitive, language, local, reblog_of_id, created_at, edited_at, deleted_at`

	sqlInsertStatus = `INSERT INTO statuses(id, uri, account_id, in_reply_to_uri, text, spoiler_text,
		visibility, sensitive, language, local, reblog_of_id, created_at, edited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectStatusByURI = `SELECT ` + sqlStatusColumns + ` FROM statuses WHERE uri = ?`
	sqlSelectStatusById  = `SELECT ` + sqlStatusColumns + ` FROM statuses WHERE id = ?`
	sqlSelectLocalStatuses = `SELECT ` + sqlStatusColumns + ` FROM statuses
		WHERE local = 1 AND deleted_at IS NULL ORDER BY created_at DESC LIMIT ?`

	sqlUpdateStatusContent = `UPDATE statuses SET text = ?, spoiler_text = ?, sensitive = ?,
		language = ?, edited_at = ? WHERE id = ?`
	sqlMarkStatusDeleted = `UPDATE statuses SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`

	sqlCountStatusEdits = `SELECT COUNT(*) FROM status_edits WHERE status_id = ?`
	sqlInsertStatusEdit = `INSERT INTO status_edits(id, status_id, account_id, text, spoiler_text, media_changed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectStatusEdits = `SELECT id, status_id, account_id, text, spoiler_text, media_changed, created_at
		FROM status_edits WHERE status_id = ? ORDER BY created_at ASC`

	sqlMediaColumns = `id, status_id, account_id, type, remote_url, thumbnail_remote_url, file_name,
		description, blurhash, focus_x, focus_y, processing_state, created_at`
	sqlInsertMedia = `INSERT INTO media_attachments(id, status_id, account_id, type, remote_url,
		thumbnail_remote_url, file_name, description, blurhash, focus_x, focus_y, processing_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateMedia = `UPDATE media_attachments SET description = ?, thumbnail_remote_url = ?,
		blurhash = ?, focus_x = ?, focus_y = ?, processing_state = ? WHERE id = ?`
	sqlSetMediaStatus         = `UPDATE media_attachments SET status_id = ? WHERE id = ?`
	sqlSelectMediaByStatusId  = `SELECT ` + sqlMediaColumns + ` FROM media_attachments WHERE status_id = ? ORDER BY created_at ASC`
	sqlSelectMediaById        = `SELECT ` + sqlMediaColumns + ` FROM media_attachments WHERE id = ?`

	sqlSelectMentionsByStatus = `SELECT id, status_id, account_id, silent, created_at FROM mentions WHERE status_id = ?`
	sqlInsertMention          = `INSERT INTO mentions(id, status_id, account_id, silent, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSilenceMention         = `UPDATE mentions SET silent = 1 WHERE id = ?`

	sqlInsertTag       = `INSERT INTO tags(name, created_at) VALUES (?, ?)`
	sqlSelectTagByName = `SELECT id, name, trendable, max_score, max_score_at, requested_review_at, created_at FROM tags WHERE name = ?`
	sqlSelectTagById   = `SELECT id, name, trendable, max_score, max_score_at, requested_review_at, created_at FROM tags WHERE id = ?`
	sqlDeleteStatusTags = `DELETE FROM status_tags WHERE status_id = ?`
	sqlInsertStatusTag  = `INSERT OR IGNORE INTO status_tags(status_id, tag_id) VALUES (?, ?)`
	sqlSelectStatusTags = `SELECT tag_id FROM status_tags WHERE status_id = ?`

	sqlSelectEmoji = `SELECT id, shortcode, domain, uri, image_remote_url, updated_at FROM custom_emojis WHERE shortcode = ? AND domain = ?`
	sqlInsertEmoji = `INSERT INTO custom_emojis(id, shortcode, domain, uri, image_remote_url, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlUpdateEmoji = `UPDATE custom_emojis SET image_remote_url = ?, updated_at = ? WHERE shortcode = ? AND domain = ?`

	sqlDeleteStatusPreviewCards = `DELETE FROM status_preview_cards WHERE status_id = ?`
	sqlInsertPreviewCard        = `INSERT INTO preview_cards(url, title, created_at) VALUES (?, ?, ?)`
	sqlSelectPreviewCardByURL   = `SELECT id, url, title, trendable, max_score, max_score_at, created_at FROM preview_cards WHERE url = ?`
	sqlSelectPreviewCardById    = `SELECT id, url, title, trendable, max_score, max_score_at, created_at FROM preview_cards WHERE id = ?`
	sqlAttachStatusPreviewCard  = `INSERT OR IGNORE INTO status_preview_cards(status_id, preview_card_id) VALUES (?, ?)`

	sqlMarkAccountStatusesDeleted = `UPDATE statuses SET deleted_at = ? WHERE account_id = ? AND deleted_at IS NULL`

	sqlInsertKeywordMute  = `INSERT OR IGNORE INTO keyword_mutes(phrase, created_at) VALUES (?, ?)`
	sqlSelectKeywordMutes = `SELECT phrase FROM keyword_mutes`
)

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func scanStatus(row interface{ Scan(...any) error }) (error, *domain.Status) {
	s := &domain.Status{}
	var reblogOfId sql.NullString
	var createdAt, editedAt, deletedAt sql.NullTime

	err := row.Scan(&s.Id, &s.URI, &s.AccountId, &s.InReplyToURI, &s.Text, &s.SpoilerText,
		&s.Visibility, &s.Sensitive, &s.Language, &s.Local, &reblogOfId, &createdAt, &editedAt, &deletedAt)
	if err != nil {
		return err, nil
	}

	if reblogOfId.Valid {
		s.ReblogOfId, _ = uuid.Parse(reblogOfId.String)
	}
	if createdAt.Valid {
		s.CreatedAt = createdAt.Time
	}
	if editedAt.Valid {
		s.EditedAt = editedAt.Time
	}
	if deletedAt.Valid {
		s.DeletedAt = deletedAt.Time
	}

	return nil, s
}

func (db *DB) CreateStatusTx(tx *sql.Tx, s *domain.Status) error {
	_, err := tx.Exec(sqlInsertStatus, s.Id.String(), s.URI, s.AccountId.String(), s.InReplyToURI,
		s.Text, s.SpoilerText, string(s.Visibility), s.Sensitive, s.Language, s.Local,
		nullableUUID(s.ReblogOfId), s.CreatedAt, nullableTime(s.EditedAt))
	return err
}

func (db *DB) CreateStatus(s *domain.Status) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		return db.CreateStatusTx(tx, s)
	})
}

func (db *DB) ReadStatusByURI(uri string) (error, *domain.Status) {
	return scanStatus(db.db.QueryRow(sqlSelectStatusByURI, uri))
}

func (db *DB) ReadStatusById(id uuid.UUID) (error, *domain.Status) {
	return scanStatus(db.db.QueryRow(sqlSelectStatusById, id.String()))
}

func (db *DB) ReadLocalStatuses(limit int) (error, *[]domain.Status) {
	rows, err := db.db.Query(sqlSelectLocalStatuses, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var statuses []domain.Status
	for rows.Next() {
		err, s := scanStatus(rows)
		if err != nil {
			return err, nil
		}
		statuses = append(statuses, *s)
	}

	return rows.Err(), &statuses
}

// UpdateStatusContentTx rewrites the scalar fields touched by an edit
func (db *DB) UpdateStatusContentTx(tx *sql.Tx, s *domain.Status) error {
	_, err := tx.Exec(sqlUpdateStatusContent, s.Text, s.SpoilerText, s.Sensitive, s.Language,
		nullableTime(s.EditedAt), s.Id.String())
	return err
}

// MarkStatusDeleted tombstones a status without removing the row
func (db *DB) MarkStatusDeleted(id uuid.UUID) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkStatusDeleted, time.Now(), id.String())
		return err
	})
}

func (db *DB) CountStatusEditsTx(tx *sql.Tx, statusId uuid.UUID) (int, error) {
	var count int
	err := tx.QueryRow(sqlCountStatusEdits, statusId.String()).Scan(&count)
	return count, err
}

func (db *DB) CreateStatusEditTx(tx *sql.Tx, edit *domain.StatusEdit) error {
	_, err := tx.Exec(sqlInsertStatusEdit, edit.Id.String(), edit.StatusId.String(),
		edit.AccountId.String(), edit.Text, edit.SpoilerText, edit.MediaChanged, edit.CreatedAt)
	return err
}

func (db *DB) ReadStatusEdits(statusId uuid.UUID) (error, *[]domain.StatusEdit) {
	rows, err := db.db.Query(sqlSelectStatusEdits, statusId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var edits []domain.StatusEdit
	for rows.Next() {
		e := domain.StatusEdit{}
		var createdAt sql.NullTime
		if err := rows.Scan(&e.Id, &e.StatusId, &e.AccountId, &e.Text, &e.SpoilerText, &e.MediaChanged, &createdAt); err != nil {
			return err, nil
		}
		if createdAt.Valid {
			e.CreatedAt = createdAt.Time
		}
		edits = append(edits, e)
	}

	return rows.Err(), &edits
}

func scanMedia(row interface{ Scan(...any) error }) (error, *domain.MediaAttachment) {
	m := &domain.MediaAttachment{}
	var statusId sql.NullString
	var createdAt sql.NullTime

	err := row.Scan(&m.Id, &statusId, &m.AccountId, &m.Type, &m.RemoteURL, &m.ThumbnailRemoteURL,
		&m.FileName, &m.Description, &m.Blurhash, &m.FocusX, &m.FocusY, &m.ProcessingState, &createdAt)
	if err != nil {
		return err, nil
	}

	if statusId.Valid {
		m.StatusId, _ = uuid.Parse(statusId.String)
	}
	if createdAt.Valid {
		m.CreatedAt = createdAt.Time
	}

	return nil, m
}

func (db *DB) CreateMediaAttachmentTx(tx *sql.Tx, m *domain.MediaAttachment) error {
	_, err := tx.Exec(sqlInsertMedia, m.Id.String(), nullableUUID(m.StatusId), m.AccountId.String(),
		string(m.Type), m.RemoteURL, m.ThumbnailRemoteURL, m.FileName, m.Description, m.Blurhash,
		m.FocusX, m.FocusY, string(m.ProcessingState), m.CreatedAt)
	return err
}

func (db *DB) CreateMediaAttachment(m *domain.MediaAttachment) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		return db.CreateMediaAttachmentTx(tx, m)
	})
}

// UpdateMediaAttachmentTx rewrites the fields an Update activity may
// change; the remote URL identifies the attachment and never changes
func (db *DB) UpdateMediaAttachmentTx(tx *sql.Tx, m *domain.MediaAttachment) error {
	_, err := tx.Exec(sqlUpdateMedia, m.Description, m.ThumbnailRemoteURL, m.Blurhash,
		m.FocusX, m.FocusY, string(m.ProcessingState), m.Id.String())
	return err
}

// SetMediaAttachmentStatusTx attaches (or with uuid.Nil detaches) an
// attachment
func (db *DB) SetMediaAttachmentStatusTx(tx *sql.Tx, mediaId, statusId uuid.UUID) error {
	_, err := tx.Exec(sqlSetMediaStatus, nullableUUID(statusId), mediaId.String())
	return err
}

func (db *DB) ReadMediaAttachmentsByStatusIdTx(tx *sql.Tx, statusId uuid.UUID) (error, *[]domain.MediaAttachment) {
	rows, err := tx.Query(sqlSelectMediaByStatusId, statusId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	return scanMediaRows(rows)
}

func (db *DB) ReadMediaAttachmentsByStatusId(statusId uuid.UUID) (error, *[]domain.MediaAttachment) {
	rows, err := db.db.Query(sqlSelectMediaByStatusId, statusId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	return scanMediaRows(rows)
}

func (db *DB) ReadMediaAttachmentById(id uuid.UUID) (error, *domain.MediaAttachment) {
	return scanMedia(db.db.QueryRow(sqlSelectMediaById, id.String()))
}

func scanMediaRows(rows *sql.Rows) (error, *[]domain.MediaAttachment) {
	var attachments []domain.MediaAttachment
	for rows.Next() {
		err, m := scanMedia(rows)
		if err != nil {
			return err, nil
		}
		attachments = append(attachments, *m)
	}
	return rows.Err(), &attachments
}

func (db *DB) ReadMentionsByStatusIdTx(tx *sql.Tx, statusId uuid.UUID) (error, *[]domain.Mention) {
	rows, err := tx.Query(sqlSelectMentionsByStatus, statusId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	return scanMentionRows(rows)
}

func (db *DB) ReadMentionsByStatusId(statusId uuid.UUID) (error, *[]domain.Mention) {
	rows, err := db.db.Query(sqlSelectMentionsByStatus, statusId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	return scanMentionRows(rows)
}

func scanMentionRows(rows *sql.Rows) (error, *[]domain.Mention) {
	var mentions []domain.Mention
	for rows.Next() {
		m := domain.Mention{}
		var createdAt sql.NullTime
		if err := rows.Scan(&m.Id, &m.StatusId, &m.AccountId, &m.Silent, &createdAt); err != nil {
			return err, nil
		}
		if createdAt.Valid {
			m.CreatedAt = createdAt.Time
		}
		mentions = append(mentions, m)
	}
	return rows.Err(), &mentions
}

func (db *DB) CreateMentionTx(tx *sql.Tx, m *domain.Mention) error {
	_, err := tx.Exec(sqlInsertMention, m.Id.String(), m.StatusId.String(), m.AccountId.String(), m.Silent, m.CreatedAt)
	return err
}

func (db *DB) SilenceMentionTx(tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.Exec(sqlSilenceMention, id.String())
	return err
}

func scanTag(row interface{ Scan(...any) error }) (error, *domain.Tag) {
	t := &domain.Tag{}
	var maxScoreAt, reviewAt, createdAt sql.NullTime

	err := row.Scan(&t.Id, &t.Name, &t.Trendable, &t.MaxScore, &maxScoreAt, &reviewAt, &createdAt)
	if err != nil {
		return err, nil
	}

	if maxScoreAt.Valid {
		t.MaxScoreAt = maxScoreAt.Time
	}
	if reviewAt.Valid {
		t.RequestedReviewAt = reviewAt.Time
	}
	if createdAt.Valid {
		t.CreatedAt = createdAt.Time
	}

	return nil, t
}

// FindOrCreateTagTx returns the id of the named tag, creating it when
// first seen
func (db *DB) FindOrCreateTagTx(tx *sql.Tx, name string) (int64, error) {
	err, tag := scanTag(tx.QueryRow(sqlSelectTagByName, name))
	if err == nil {
		return tag.Id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	res, err := tx.Exec(sqlInsertTag, name, time.Now())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetStatusTagsTx replaces the status's tag set
func (db *DB) SetStatusTagsTx(tx *sql.Tx, statusId uuid.UUID, tagIds []int64) error {
	if _, err := tx.Exec(sqlDeleteStatusTags, statusId.String()); err != nil {
		return err
	}
	for _, tagId := range tagIds {
		if _, err := tx.Exec(sqlInsertStatusTag, statusId.String(), tagId); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) ReadStatusTagIds(statusId uuid.UUID) (error, []int64) {
	rows, err := db.db.Query(sqlSelectStatusTags, statusId.String())
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

func (db *DB) ReadTagByName(name string) (error, *domain.Tag) {
	return scanTag(db.db.QueryRow(sqlSelectTagByName, name))
}

func (db *DB) ReadTagById(id int64) (error, *domain.Tag) {
	return scanTag(db.db.QueryRow(sqlSelectTagById, id))
}

func (db *DB) ReadCustomEmojiTx(tx *sql.Tx, shortcode, dom string) (error, *domain.CustomEmoji) {
	e := &domain.CustomEmoji{}
	var updatedAt sql.NullTime
	err := tx.QueryRow(sqlSelectEmoji, shortcode, dom).Scan(&e.Id, &e.Shortcode, &e.Domain, &e.URI, &e.ImageRemoteURL, &updatedAt)
	if err != nil {
		return err, nil
	}
	if updatedAt.Valid {
		e.UpdatedAt = updatedAt.Time
	}
	return nil, e
}

func (db *DB) ReadCustomEmoji(shortcode, dom string) (error, *domain.CustomEmoji) {
	e := &domain.CustomEmoji{}
	var updatedAt sql.NullTime
	err := db.db.QueryRow(sqlSelectEmoji, shortcode, dom).Scan(&e.Id, &e.Shortcode, &e.Domain, &e.URI, &e.ImageRemoteURL, &updatedAt)
	if err != nil {
		return err, nil
	}
	if updatedAt.Valid {
		e.UpdatedAt = updatedAt.Time
	}
	return nil, e
}

func (db *DB) CreateCustomEmojiTx(tx *sql.Tx, e *domain.CustomEmoji) error {
	_, err := tx.Exec(sqlInsertEmoji, e.Id.String(), e.Shortcode, e.Domain, e.URI, e.ImageRemoteURL, e.UpdatedAt)
	return err
}

func (db *DB) UpdateCustomEmojiTx(tx *sql.Tx, e *domain.CustomEmoji) error {
	_, err := tx.Exec(sqlUpdateEmoji, e.ImageRemoteURL, e.UpdatedAt, e.Shortcode, e.Domain)
	return err
}

// ClearStatusPreviewCards drops the cached link previews of a status,
// run after a significant edit so a recrawl can rebuild them
func (db *DB) ClearStatusPreviewCards(statusId uuid.UUID) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteStatusPreviewCards, statusId.String())
		return err
	})
}

// FindOrCreatePreviewCard returns the id of the card for url
func (db *DB) FindOrCreatePreviewCard(url, title string) (int64, error) {
	var id int64
	err := db.db.QueryRow(`SELECT id FROM preview_cards WHERE url = ?`, url).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	var newId int64
	err = db.WithTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertPreviewCard, url, title, time.Now())
		if err != nil {
			return err
		}
		newId, err = res.LastInsertId()
		return err
	})
	return newId, err
}

// AttachStatusPreviewCard links a crawled card to a status
func (db *DB) AttachStatusPreviewCard(statusId uuid.UUID, cardId int64) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAttachStatusPreviewCard, statusId.String(), cardId)
		return err
	})
}

// MarkAccountStatusesDeleted tombstones every live status of an
// account, run when the account is purged
func (db *DB) MarkAccountStatusesDeleted(accountId uuid.UUID) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkAccountStatusesDeleted, time.Now(), accountId.String())
		return err
	})
}

func (db *DB) CreateKeywordMute(phrase string) error {
	return db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertKeywordMute, phrase, time.Now())
		return err
	})
}

func (db *DB) ReadKeywordMutePhrases() (error, []string) {
	rows, err := db.db.Query(sqlSelectKeywordMutes)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var phrases []string
	for rows.Next() {
		var phrase string
		if err := rows.Scan(&phrase); err != nil {
			return err, nil
		}
		phrases = append(phrases, phrase)
	}
	return rows.Err(), phrases
}

func (db *DB) ReadPreviewCardById(id int64) (error, *domain.PreviewCard) {
	c := &domain.PreviewCard{}
	var maxScoreAt, createdAt sql.NullTime
	err := db.db.QueryRow(sqlSelectPreviewCardById, id).Scan(&c.Id, &c.URL, &c.Title, &c.Trendable, &c.MaxScore, &maxScoreAt, &createdAt)
	if err != nil {
		return err, nil
	}
	if maxScoreAt.Valid {
		c.MaxScoreAt = maxScoreAt.Time
	}
	if createdAt.Valid {
		c.CreatedAt = createdAt.Time
	}
	return nil, c
}
