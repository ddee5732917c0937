package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/romanmihailow/tg-post-service/store"
)

func (q *queries) GetDiscussionSettings(ctx context.Context, pipelineID int64) (*store.DiscussionSettings, error) {
	var s store.DiscussionSettings
	err := q.db.QueryRowContext(ctx, `
		SELECT pipeline_id, target_chat, source_pipeline_name, k_min, k_max,
			reply_to_reply_probability, activity_windows_weekdays_json,
			activity_windows_weekends_json, timezone, min_interval_minutes,
			max_interval_minutes, inactivity_pause_minutes,
			max_auto_replies_per_chat_per_day, user_reply_max_age_minutes
		FROM discussion_settings WHERE pipeline_id = ?`, pipelineID).
		Scan(&s.PipelineID, &s.TargetChat, &s.SourcePipelineName, &s.KMin, &s.KMax,
			&s.ReplyToReplyProbability, &s.ActivityWindowsWeekdaysJSON,
			&s.ActivityWindowsWeekendsJSON, &s.Timezone, &s.MinIntervalMinutes,
			&s.MaxIntervalMinutes, &s.InactivityPauseMinutes,
			&s.MaxAutoRepliesPerChatPerDay, &s.UserReplyMaxAgeMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get discussion settings")
	}
	return &s, nil
}

func (q *queries) UpsertDiscussionSettings(ctx context.Context, upsert *store.UpsertDiscussionSettings) (*store.DiscussionSettings, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO discussion_settings (
			pipeline_id, target_chat, source_pipeline_name, k_min, k_max,
			reply_to_reply_probability, activity_windows_weekdays_json,
			activity_windows_weekends_json, timezone, min_interval_minutes,
			max_interval_minutes, inactivity_pause_minutes,
			max_auto_replies_per_chat_per_day, user_reply_max_age_minutes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pipeline_id) DO UPDATE SET
			target_chat = excluded.target_chat,
			source_pipeline_name = excluded.source_pipeline_name,
			k_min = excluded.k_min,
			k_max = excluded.k_max,
			reply_to_reply_probability = excluded.reply_to_reply_probability,
			activity_windows_weekdays_json = excluded.activity_windows_weekdays_json,
			activity_windows_weekends_json = excluded.activity_windows_weekends_json,
			timezone = excluded.timezone,
			min_interval_minutes = excluded.min_interval_minutes,
			max_interval_minutes = excluded.max_interval_minutes,
			inactivity_pause_minutes = excluded.inactivity_pause_minutes,
			max_auto_replies_per_chat_per_day = excluded.max_auto_replies_per_chat_per_day,
			user_reply_max_age_minutes = excluded.user_reply_max_age_minutes`,
		upsert.PipelineID, upsert.TargetChat, upsert.SourcePipelineName, upsert.KMin, upsert.KMax,
		upsert.ReplyToReplyProbability, upsert.ActivityWindowsWeekdaysJSON,
		upsert.ActivityWindowsWeekendsJSON, upsert.Timezone, upsert.MinIntervalMinutes,
		upsert.MaxIntervalMinutes, upsert.InactivityPauseMinutes,
		upsert.MaxAutoRepliesPerChatPerDay, upsert.UserReplyMaxAgeMinutes)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upsert discussion settings %d", upsert.PipelineID)
	}
	return q.GetDiscussionSettings(ctx, upsert.PipelineID)
}

func (q *queries) GetDiscussionState(ctx context.Context, pipelineID int64) (*store.DiscussionState, error) {
	if _, err := q.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO discussion_state (pipeline_id) VALUES (?)", pipelineID); err != nil {
		return nil, errors.Wrap(err, "failed to ensure discussion state")
	}
	var s store.DiscussionState
	var createdAt, expiresAt, lastReplyAt, lastSourceAt, nextDueAt sql.NullInt64
	err := q.db.QueryRowContext(ctx, `
		SELECT pipeline_id, question_message_id, question_created_at, expires_at,
			replies_planned, replies_sent, last_bot_reply_at, last_reply_parent_id,
			last_bot_reply_message_id, last_source_post_id, last_source_post_at,
			recent_topics_json, next_due_at
		FROM discussion_state WHERE pipeline_id = ?`, pipelineID).
		Scan(&s.PipelineID, &s.QuestionMessageID, &createdAt, &expiresAt,
			&s.RepliesPlanned, &s.RepliesSent, &lastReplyAt, &s.LastReplyParentID,
			&s.LastBotReplyMessageID, &s.LastSourcePostID, &lastSourceAt,
			&s.RecentTopicsJSON, &nextDueAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get discussion state")
	}
	s.QuestionCreatedAt = timeFromNull(createdAt)
	s.ExpiresAt = timeFromNull(expiresAt)
	s.LastBotReplyAt = timeFromNull(lastReplyAt)
	s.LastSourcePostAt = timeFromNull(lastSourceAt)
	s.NextDueAt = timeFromNull(nextDueAt)
	return &s, nil
}

func (q *queries) UpdateDiscussionState(ctx context.Context, update *store.UpdateDiscussionState) (*store.DiscussionState, error) {
	set, args := []string{}, []any{}
	if update.ClearQuestion {
		set = append(set,
			"question_message_id = 0", "question_created_at = NULL", "expires_at = NULL",
			"replies_planned = 0", "replies_sent = 0", "last_bot_reply_at = NULL",
			"last_reply_parent_id = 0", "last_bot_reply_message_id = 0")
	}
	if update.QuestionMessageID != nil {
		set, args = append(set, "question_message_id = ?"), append(args, *update.QuestionMessageID)
	}
	if update.QuestionCreatedAt != nil {
		set, args = append(set, "question_created_at = ?"), append(args, update.QuestionCreatedAt.UTC().Unix())
	}
	if update.ExpiresAt != nil {
		set, args = append(set, "expires_at = ?"), append(args, update.ExpiresAt.UTC().Unix())
	}
	if update.RepliesPlanned != nil {
		set, args = append(set, "replies_planned = ?"), append(args, *update.RepliesPlanned)
	}
	if update.RepliesSent != nil {
		set, args = append(set, "replies_sent = ?"), append(args, *update.RepliesSent)
	}
	if update.LastBotReplyAt != nil {
		set, args = append(set, "last_bot_reply_at = ?"), append(args, update.LastBotReplyAt.UTC().Unix())
	}
	if update.LastReplyParentID != nil {
		set, args = append(set, "last_reply_parent_id = ?"), append(args, *update.LastReplyParentID)
	}
	if update.LastBotReplyMessageID != nil {
		set, args = append(set, "last_bot_reply_message_id = ?"), append(args, *update.LastBotReplyMessageID)
	}
	if update.LastSourcePostID != nil {
		set, args = append(set, "last_source_post_id = ?"), append(args, *update.LastSourcePostID)
	}
	if update.LastSourcePostAt != nil {
		set, args = append(set, "last_source_post_at = ?"), append(args, update.LastSourcePostAt.UTC().Unix())
	}
	if update.RecentTopicsJSON != nil {
		set, args = append(set, "recent_topics_json = ?"), append(args, *update.RecentTopicsJSON)
	}
	if update.NextDueAt != nil {
		set, args = append(set, "next_due_at = ?"), append(args, update.NextDueAt.UTC().Unix())
	}
	if len(set) > 0 {
		args = append(args, update.PipelineID)
		if _, err := q.db.ExecContext(ctx,
			"UPDATE discussion_state SET "+strings.Join(set, ", ")+" WHERE pipeline_id = ?", args...); err != nil {
			return nil, errors.Wrapf(err, "failed to update discussion state %d", update.PipelineID)
		}
	}
	return q.GetDiscussionState(ctx, update.PipelineID)
}

func (q *queries) CreateDiscussionReply(ctx context.Context, create *store.CreateDiscussionReply) (*store.DiscussionReply, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO discussion_reply (
			pipeline_id, kind, chat_id, account_name, reply_text, send_at,
			status, reply_to_message_id, source_message_at
		) VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)`,
		create.PipelineID, string(create.Kind), create.ChatID, create.AccountName,
		create.ReplyText, create.SendAt.UTC().Unix(), create.ReplyToMessageID,
		unixOrNil(create.SourceMessageAt))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discussion reply")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read reply id")
	}
	return q.getDiscussionReply(ctx, id)
}

func (q *queries) getDiscussionReply(ctx context.Context, id int64) (*store.DiscussionReply, error) {
	rows, err := q.db.QueryContext(ctx, replySelect+" WHERE id = ?", id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get discussion reply")
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, errors.Errorf("discussion reply %d not found", id)
	}
	return scanReply(rows)
}

const replySelect = `
	SELECT id, pipeline_id, kind, chat_id, account_name, reply_text, send_at,
		status, reply_to_message_id, source_message_at, sent_at, cancelled_reason
	FROM discussion_reply`

func (q *queries) ListDiscussionReplies(ctx context.Context, find *store.FindDiscussionReply) ([]*store.DiscussionReply, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.PipelineID != nil {
		where, args = append(where, "pipeline_id = ?"), append(args, *find.PipelineID)
	}
	if find.Kind != nil {
		where, args = append(where, "kind = ?"), append(args, string(*find.Kind))
	}
	if find.Status != nil {
		where, args = append(where, "status = ?"), append(args, string(*find.Status))
	}
	if find.DueBefore != nil {
		where, args = append(where, "send_at <= ?"), append(args, find.DueBefore.UTC().Unix())
	}
	query := replySelect + " WHERE " + strings.Join(where, " AND ") + " ORDER BY send_at, id"
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list discussion replies")
	}
	defer rows.Close()

	var list []*store.DiscussionReply
	for rows.Next() {
		r, err := scanReply(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate discussion replies")
}

func scanReply(rows *sql.Rows) (*store.DiscussionReply, error) {
	var r store.DiscussionReply
	var kind, status string
	var sendAt int64
	var sourceAt, sentAt sql.NullInt64
	if err := rows.Scan(&r.ID, &r.PipelineID, &kind, &r.ChatID, &r.AccountName,
		&r.ReplyText, &sendAt, &status, &r.ReplyToMessageID, &sourceAt, &sentAt,
		&r.CancelledReason); err != nil {
		return nil, errors.Wrap(err, "failed to scan discussion reply")
	}
	r.Kind = store.DiscussionReplyKind(kind)
	r.Status = store.DiscussionReplyStatus(status)
	r.SendAt = time.Unix(sendAt, 0).UTC()
	r.SourceMessageAt = timeFromNull(sourceAt)
	r.SentAt = timeFromNull(sentAt)
	return &r, nil
}

func (q *queries) MarkDiscussionReplySent(ctx context.Context, id int64, sentAt time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE discussion_reply SET status = 'sent', sent_at = ?
		WHERE id = ? AND status = 'pending'`, sentAt.UTC().Unix(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark reply %d sent", id)
	}
	return settledGuard(res, id)
}

func (q *queries) MarkDiscussionReplyCancelled(ctx context.Context, id int64, reason string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE discussion_reply SET status = 'cancelled', cancelled_reason = ?
		WHERE id = ? AND status = 'pending'`, reason, id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark reply %d cancelled", id)
	}
	return settledGuard(res, id)
}

// settledGuard rejects a second transition on an already settled reply.
func settledGuard(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.Errorf("reply %d is not pending", id)
	}
	return nil
}

func (q *queries) ListDiscussionBotWeights(ctx context.Context, pipelineID int64) ([]*store.DiscussionBotWeight, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT pipeline_id, account_name, weight, daily_limit, cooldown_minutes,
			used_today, used_today_date, last_used_at
		FROM discussion_bot_weight
		WHERE pipeline_id = ?
		ORDER BY account_name`, pipelineID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list bot weights")
	}
	defer rows.Close()

	var list []*store.DiscussionBotWeight
	for rows.Next() {
		var (
			w      store.DiscussionBotWeight
			usedAt sql.NullInt64
		)
		if err := rows.Scan(&w.PipelineID, &w.AccountName, &w.Weight, &w.DailyLimit,
			&w.CooldownMinutes, &w.UsedToday, &w.UsedTodayDate, &usedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan bot weight")
		}
		w.LastUsedAt = timeFromNull(usedAt)
		list = append(list, &w)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate bot weights")
}

func (q *queries) UpsertDiscussionBotWeight(ctx context.Context, upsert *store.UpsertDiscussionBotWeight) (*store.DiscussionBotWeight, error) {
	// Existing rows keep their tuning; only missing rows get the defaults.
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO discussion_bot_weight (pipeline_id, account_name, weight, daily_limit, cooldown_minutes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pipeline_id, account_name) DO NOTHING`,
		upsert.PipelineID, upsert.AccountName, upsert.Weight, upsert.DailyLimit, upsert.CooldownMinutes)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upsert bot weight %s", upsert.AccountName)
	}
	return q.getBotWeight(ctx, upsert.PipelineID, upsert.AccountName)
}

func (q *queries) getBotWeight(ctx context.Context, pipelineID int64, accountName string) (*store.DiscussionBotWeight, error) {
	var (
		w      store.DiscussionBotWeight
		usedAt sql.NullInt64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT pipeline_id, account_name, weight, daily_limit, cooldown_minutes,
			used_today, used_today_date, last_used_at
		FROM discussion_bot_weight
		WHERE pipeline_id = ? AND account_name = ?`, pipelineID, accountName).
		Scan(&w.PipelineID, &w.AccountName, &w.Weight, &w.DailyLimit,
			&w.CooldownMinutes, &w.UsedToday, &w.UsedTodayDate, &usedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get bot weight %s", accountName)
	}
	w.LastUsedAt = timeFromNull(usedAt)
	return &w, nil
}

func (q *queries) UpdateDiscussionBotWeight(ctx context.Context, update *store.UpdateDiscussionBotWeight) (*store.DiscussionBotWeight, error) {
	set, args := []string{}, []any{}
	if update.Weight != nil {
		set, args = append(set, "weight = ?"), append(args, *update.Weight)
	}
	if update.DailyLimit != nil {
		set, args = append(set, "daily_limit = ?"), append(args, *update.DailyLimit)
	}
	if update.CooldownMinutes != nil {
		set, args = append(set, "cooldown_minutes = ?"), append(args, *update.CooldownMinutes)
	}
	if update.UsedToday != nil {
		set, args = append(set, "used_today = ?"), append(args, *update.UsedToday)
	}
	if update.UsedTodayDate != nil {
		set, args = append(set, "used_today_date = ?"), append(args, *update.UsedTodayDate)
	}
	if update.LastUsedAt != nil {
		set, args = append(set, "last_used_at = ?"), append(args, update.LastUsedAt.UTC().Unix())
	}
	if len(set) > 0 {
		args = append(args, update.PipelineID, update.AccountName)
		if _, err := q.db.ExecContext(ctx,
			"UPDATE discussion_bot_weight SET "+strings.Join(set, ", ")+
				" WHERE pipeline_id = ? AND account_name = ?", args...); err != nil {
			return nil, errors.Wrapf(err, "failed to update bot weight %s", update.AccountName)
		}
	}
	return q.getBotWeight(ctx, update.PipelineID, update.AccountName)
}

func (q *queries) GetChatState(ctx context.Context, pipelineID, chatID int64) (*store.ChatState, error) {
	if _, err := q.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO chat_state (pipeline_id, chat_id) VALUES (?, ?)",
		pipelineID, chatID); err != nil {
		return nil, errors.Wrap(err, "failed to ensure chat state")
	}
	var s store.ChatState
	var humanAt, nextScan sql.NullInt64
	err := q.db.QueryRowContext(ctx, `
		SELECT pipeline_id, chat_id, last_seen_message_id, last_human_message_at,
			replies_today, replies_today_date, next_scan_at
		FROM chat_state WHERE pipeline_id = ? AND chat_id = ?`, pipelineID, chatID).
		Scan(&s.PipelineID, &s.ChatID, &s.LastSeenMessageID, &humanAt,
			&s.RepliesToday, &s.RepliesTodayDate, &nextScan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chat state")
	}
	s.LastHumanMessageAt = timeFromNull(humanAt)
	s.NextScanAt = timeFromNull(nextScan)
	return &s, nil
}

func (q *queries) UpdateChatState(ctx context.Context, update *store.UpdateChatState) (*store.ChatState, error) {
	set, args := []string{}, []any{}
	if update.LastSeenMessageID != nil {
		set, args = append(set, "last_seen_message_id = ?"), append(args, *update.LastSeenMessageID)
	}
	if update.LastHumanMessageAt != nil {
		set, args = append(set, "last_human_message_at = ?"), append(args, update.LastHumanMessageAt.UTC().Unix())
	}
	if update.RepliesToday != nil {
		set, args = append(set, "replies_today = ?"), append(args, *update.RepliesToday)
	}
	if update.RepliesTodayDate != nil {
		set, args = append(set, "replies_today_date = ?"), append(args, *update.RepliesTodayDate)
	}
	if update.NextScanAt != nil {
		set, args = append(set, "next_scan_at = ?"), append(args, update.NextScanAt.UTC().Unix())
	}
	if len(set) > 0 {
		args = append(args, update.PipelineID, update.ChatID)
		if _, err := q.db.ExecContext(ctx,
			"UPDATE chat_state SET "+strings.Join(set, ", ")+
				" WHERE pipeline_id = ? AND chat_id = ?", args...); err != nil {
			return nil, errors.Wrapf(err, "failed to update chat state %d/%d", update.PipelineID, update.ChatID)
		}
	}
	return q.GetChatState(ctx, update.PipelineID, update.ChatID)
}
