package db

// Schema for the federation core. Unique constraints back the
// idempotency guarantees: (username, domain) for accounts, uri for
// statuses and activities.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts(
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		actor_uri TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		inbox_uri TEXT NOT NULL DEFAULT '',
		outbox_uri TEXT NOT NULL DEFAULT '',
		shared_inbox_uri TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL DEFAULT '',
		private_key_pem TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		suspended_at TIMESTAMP,
		suspension_origin TEXT NOT NULL DEFAULT '',
		last_webfingered_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, domain)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_actor_uri ON accounts(actor_uri)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_domain ON accounts(domain)`,

	`CREATE TABLE IF NOT EXISTS statuses(
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		account_id TEXT NOT NULL,
		in_reply_to_uri TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		spoiler_text TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'public',
		sensitive INTEGER NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT '',
		local INTEGER NOT NULL DEFAULT 0,
		reblog_of_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP,
		deleted_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_statuses_account_id ON statuses(account_id)`,

	`CREATE TABLE IF NOT EXISTS media_attachments(
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT,
		account_id TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'unknown',
		remote_url TEXT NOT NULL DEFAULT '',
		thumbnail_remote_url TEXT NOT NULL DEFAULT '',
		file_name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		blurhash TEXT NOT NULL DEFAULT '',
		focus_x REAL NOT NULL DEFAULT 0,
		focus_y REAL NOT NULL DEFAULT 0,
		processing_state TEXT NOT NULL DEFAULT 'queued',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_media_attachments_status_id ON media_attachments(status_id)`,

	`CREATE TABLE IF NOT EXISTS polls(
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT UNIQUE NOT NULL,
		account_id TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		multiple INTEGER NOT NULL DEFAULT 0,
		expires_at TIMESTAMP,
		cached_tallies TEXT NOT NULL DEFAULT '[]',
		voters_count INTEGER NOT NULL DEFAULT 0,
		last_fetched_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS poll_votes(
		id TEXT NOT NULL PRIMARY KEY,
		poll_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		choice INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_poll_votes_poll_id ON poll_votes(poll_id)`,

	`CREATE TABLE IF NOT EXISTS status_edits(
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		spoiler_text TEXT NOT NULL DEFAULT '',
		media_changed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_status_edits_status_id ON status_edits(status_id)`,

	`CREATE TABLE IF NOT EXISTS mentions(
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		silent INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(status_id, account_id)
	)`,

	`CREATE TABLE IF NOT EXISTS tags(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		trendable INTEGER NOT NULL DEFAULT 0,
		max_score REAL NOT NULL DEFAULT 0,
		max_score_at TIMESTAMP,
		requested_review_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS status_tags(
		status_id TEXT NOT NULL,
		tag_id INTEGER NOT NULL,
		UNIQUE(status_id, tag_id)
	)`,

	`CREATE TABLE IF NOT EXISTS preview_cards(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		trendable INTEGER NOT NULL DEFAULT 0,
		max_score REAL NOT NULL DEFAULT 0,
		max_score_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS status_preview_cards(
		status_id TEXT NOT NULL,
		preview_card_id INTEGER NOT NULL,
		UNIQUE(status_id, preview_card_id)
	)`,

	`CREATE TABLE IF NOT EXISTS custom_emojis(
		id TEXT NOT NULL PRIMARY KEY,
		shortcode TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		uri TEXT NOT NULL DEFAULT '',
		image_remote_url TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(shortcode, domain)
	)`,

	`CREATE TABLE IF NOT EXISTS domain_blocks(
		id TEXT NOT NULL PRIMARY KEY,
		domain TEXT UNIQUE NOT NULL,
		reject_media INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS keyword_mutes(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		phrase TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS follows(
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		target_account_id TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		accepted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, target_account_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_follows_target_account_id ON follows(target_account_id)`,

	`CREATE TABLE IF NOT EXISTS activities(
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT NOT NULL DEFAULT '',
		raw_json TEXT NOT NULL DEFAULT '',
		processed INTEGER NOT NULL DEFAULT 0,
		local INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_object_uri ON activities(object_uri)`,

	`CREATE TABLE IF NOT EXISTS delivery_queue(
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		account_id TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry_at ON delivery_queue(next_retry_at)`,

	`CREATE TABLE IF NOT EXISTS trend_usages(
		subject_type TEXT NOT NULL,
		subject_id INTEGER NOT NULL,
		day INTEGER NOT NULL,
		account_id TEXT NOT NULL,
		UNIQUE(subject_type, subject_id, day, account_id)
	)`,
}
