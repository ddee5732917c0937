package sqlite

import (
	"context"

	"github.com/pkg/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		account_name TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		destination TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL DEFAULT 'TEXT',
		type TEXT NOT NULL DEFAULT 'STANDARD',
		interval_sec INTEGER NOT NULL DEFAULT 3600,
		blackbox_every_n INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_source (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pipeline_id INTEGER NOT NULL,
		channel TEXT NOT NULL,
		last_seen_message_id INTEGER NOT NULL DEFAULT 0,
		UNIQUE(pipeline_id, channel)
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_state (
		pipeline_id INTEGER PRIMARY KEY,
		current_source_index INTEGER NOT NULL DEFAULT 0,
		total_posts INTEGER NOT NULL DEFAULT 0,
		last_run_at INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS post_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pipeline_id INTEGER NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		destination_channel TEXT NOT NULL DEFAULT '',
		channel_message_id INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_post_history_pipeline ON post_history(pipeline_id, id)`,
	`CREATE TABLE IF NOT EXISTS discussion_settings (
		pipeline_id INTEGER PRIMARY KEY,
		target_chat TEXT NOT NULL DEFAULT '',
		source_pipeline_name TEXT NOT NULL DEFAULT '',
		k_min INTEGER NOT NULL DEFAULT 5,
		k_max INTEGER NOT NULL DEFAULT 8,
		reply_to_reply_probability INTEGER NOT NULL DEFAULT 15,
		activity_windows_weekdays_json TEXT NOT NULL DEFAULT '',
		activity_windows_weekends_json TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'Europe/Moscow',
		min_interval_minutes INTEGER NOT NULL DEFAULT 90,
		max_interval_minutes INTEGER NOT NULL DEFAULT 180,
		inactivity_pause_minutes INTEGER NOT NULL DEFAULT 60,
		max_auto_replies_per_chat_per_day INTEGER NOT NULL DEFAULT 30,
		user_reply_max_age_minutes INTEGER NOT NULL DEFAULT 30
	)`,
	`CREATE TABLE IF NOT EXISTS discussion_state (
		pipeline_id INTEGER PRIMARY KEY,
		question_message_id INTEGER NOT NULL DEFAULT 0,
		question_created_at INTEGER,
		expires_at INTEGER,
		replies_planned INTEGER NOT NULL DEFAULT 0,
		replies_sent INTEGER NOT NULL DEFAULT 0,
		last_bot_reply_at INTEGER,
		last_reply_parent_id INTEGER NOT NULL DEFAULT 0,
		last_bot_reply_message_id INTEGER NOT NULL DEFAULT 0,
		last_source_post_id INTEGER NOT NULL DEFAULT 0,
		last_source_post_at INTEGER,
		recent_topics_json TEXT NOT NULL DEFAULT '',
		next_due_at INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS discussion_reply (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pipeline_id INTEGER NOT NULL,
		kind TEXT NOT NULL DEFAULT 'discussion',
		chat_id INTEGER NOT NULL DEFAULT 0,
		account_name TEXT NOT NULL DEFAULT '',
		reply_text TEXT NOT NULL DEFAULT '',
		send_at INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reply_to_message_id INTEGER NOT NULL DEFAULT 0,
		source_message_at INTEGER,
		sent_at INTEGER,
		cancelled_reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_discussion_reply_due ON discussion_reply(pipeline_id, status, send_at)`,
	`CREATE TABLE IF NOT EXISTS discussion_bot_weight (
		pipeline_id INTEGER NOT NULL,
		account_name TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 1,
		daily_limit INTEGER NOT NULL DEFAULT 5,
		cooldown_minutes INTEGER NOT NULL DEFAULT 60,
		used_today INTEGER NOT NULL DEFAULT 0,
		used_today_date TEXT NOT NULL DEFAULT '',
		last_used_at INTEGER,
		PRIMARY KEY(pipeline_id, account_name)
	)`,
	`CREATE TABLE IF NOT EXISTS chat_state (
		pipeline_id INTEGER NOT NULL,
		chat_id INTEGER NOT NULL,
		last_seen_message_id INTEGER NOT NULL DEFAULT 0,
		last_human_message_at INTEGER,
		replies_today INTEGER NOT NULL DEFAULT 0,
		replies_today_date TEXT NOT NULL DEFAULT '',
		next_scan_at INTEGER,
		PRIMARY KEY(pipeline_id, chat_id)
	)`,
	`CREATE TABLE IF NOT EXISTS persona (
		account_name TEXT PRIMARY KEY,
		tone TEXT NOT NULL DEFAULT 'neutral',
		verbosity TEXT NOT NULL DEFAULT 'short',
		style_hint TEXT NOT NULL DEFAULT '',
		topics_json TEXT NOT NULL DEFAULT '',
		topic_priority INTEGER NOT NULL DEFAULT 50,
		offtopic_tolerance INTEGER NOT NULL DEFAULT 50
	)`,
	`CREATE TABLE IF NOT EXISTS bot_invite (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL UNIQUE,
		issued_by TEXT NOT NULL DEFAULT '',
		issued_at INTEGER NOT NULL,
		expires_at INTEGER,
		status TEXT NOT NULL DEFAULT 'pending',
		user_id INTEGER NOT NULL DEFAULT 0,
		username TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS bot_invite_code (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		invite_id INTEGER NOT NULL,
		code TEXT NOT NULL UNIQUE,
		used INTEGER NOT NULL DEFAULT 0,
		used_at INTEGER
	)`,
}

// Columns added after the initial schema shipped. Migrations are additive
// only: add-column-if-missing, never drop or rewrite.
var addedColumns = []struct {
	table  string
	column string
	ddl    string
}{
	{"discussion_state", "last_bot_reply_message_id",
		"ALTER TABLE discussion_state ADD COLUMN last_bot_reply_message_id INTEGER NOT NULL DEFAULT 0"},
	{"discussion_reply", "source_message_at",
		"ALTER TABLE discussion_reply ADD COLUMN source_message_at INTEGER"},
	{"post_history", "destination_channel",
		"ALTER TABLE post_history ADD COLUMN destination_channel TEXT NOT NULL DEFAULT ''"},
	{"post_history", "channel_message_id",
		"ALTER TABLE post_history ADD COLUMN channel_message_id INTEGER NOT NULL DEFAULT 0"},
	{"persona", "topic_priority",
		"ALTER TABLE persona ADD COLUMN topic_priority INTEGER NOT NULL DEFAULT 50"},
	{"persona", "offtopic_tolerance",
		"ALTER TABLE persona ADD COLUMN offtopic_tolerance INTEGER NOT NULL DEFAULT 50"},
}

// Migrate creates missing tables and adds missing columns.
func (d *DB) Migrate(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := d.sqldb.ExecContext(ctx, ddl); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	for _, ac := range addedColumns {
		ok, err := d.hasColumn(ctx, ac.table, ac.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := d.sqldb.ExecContext(ctx, ac.ddl); err != nil {
			return errors.Wrapf(err, "failed to add column %s.%s", ac.table, ac.column)
		}
	}
	return nil
}

func (d *DB) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := d.sqldb.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, errors.Wrapf(err, "failed to inspect table %s", table)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notnull   int
			dflt      any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return false, errors.Wrap(err, "failed to scan table info")
		}
		if name == column {
			return true, nil
		}
	}
	return false, errors.Wrap(rows.Err(), "failed to iterate table info")
}
