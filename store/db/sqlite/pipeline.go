package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/romanmihailow/tg-post-service/store"
)

func (q *queries) ListPipelines(ctx context.Context, find *store.FindPipeline) ([]*store.Pipeline, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Name != nil {
		where, args = append(where, "name = ?"), append(args, *find.Name)
	}
	if find.Enabled != nil {
		where, args = append(where, "enabled = ?"), append(args, boolToInt(*find.Enabled))
	}
	if find.Type != nil {
		where, args = append(where, "type = ?"), append(args, string(*find.Type))
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, account_name, enabled, destination, mode, type, interval_sec, blackbox_every_n
		FROM pipeline
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pipelines")
	}
	defer rows.Close()

	var list []*store.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate pipelines")
}

func (q *queries) GetPipeline(ctx context.Context, find *store.FindPipeline) (*store.Pipeline, error) {
	list, err := q.ListPipelines(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (q *queries) UpsertPipeline(ctx context.Context, upsert *store.UpsertPipeline) (*store.Pipeline, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO pipeline (name, account_name, enabled, destination, mode, type, interval_sec, blackbox_every_n)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			account_name = excluded.account_name,
			enabled = excluded.enabled,
			destination = excluded.destination,
			mode = excluded.mode,
			type = excluded.type,
			interval_sec = excluded.interval_sec,
			blackbox_every_n = excluded.blackbox_every_n`,
		upsert.Name, upsert.AccountName, boolToInt(upsert.Enabled), upsert.Destination,
		string(upsert.Mode), string(upsert.Type), upsert.IntervalSec, upsert.BlackboxEveryN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upsert pipeline %s", upsert.Name)
	}
	return q.GetPipeline(ctx, &store.FindPipeline{Name: &upsert.Name})
}

func (q *queries) UpdatePipeline(ctx context.Context, update *store.UpdatePipeline) (*store.Pipeline, error) {
	set, args := []string{}, []any{}
	if update.Enabled != nil {
		set, args = append(set, "enabled = ?"), append(args, boolToInt(*update.Enabled))
	}
	if update.Destination != nil {
		set, args = append(set, "destination = ?"), append(args, *update.Destination)
	}
	if update.IntervalSec != nil {
		set, args = append(set, "interval_sec = ?"), append(args, *update.IntervalSec)
	}
	if update.BlackboxEveryN != nil {
		set, args = append(set, "blackbox_every_n = ?"), append(args, *update.BlackboxEveryN)
	}
	if len(set) > 0 {
		args = append(args, update.ID)
		if _, err := q.db.ExecContext(ctx,
			"UPDATE pipeline SET "+strings.Join(set, ", ")+" WHERE id = ?", args...); err != nil {
			return nil, errors.Wrapf(err, "failed to update pipeline %d", update.ID)
		}
	}
	return q.GetPipeline(ctx, &store.FindPipeline{ID: &update.ID})
}

func scanPipeline(rows *sql.Rows) (*store.Pipeline, error) {
	var (
		p       store.Pipeline
		enabled int
		mode    string
		typ     string
	)
	if err := rows.Scan(&p.ID, &p.Name, &p.AccountName, &enabled, &p.Destination, &mode, &typ, &p.IntervalSec, &p.BlackboxEveryN); err != nil {
		return nil, errors.Wrap(err, "failed to scan pipeline")
	}
	p.Enabled = enabled != 0
	p.Mode = store.PipelineMode(mode)
	p.Type = store.PipelineType(typ)
	return &p, nil
}

func (q *queries) ListPipelineSources(ctx context.Context, pipelineID int64) ([]*store.PipelineSource, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, pipeline_id, channel, last_seen_message_id
		FROM pipeline_source
		WHERE pipeline_id = ?
		ORDER BY id`, pipelineID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pipeline sources")
	}
	defer rows.Close()

	var list []*store.PipelineSource
	for rows.Next() {
		var s store.PipelineSource
		if err := rows.Scan(&s.ID, &s.PipelineID, &s.Channel, &s.LastSeenMessageID); err != nil {
			return nil, errors.Wrap(err, "failed to scan pipeline source")
		}
		list = append(list, &s)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate pipeline sources")
}

func (q *queries) UpsertPipelineSource(ctx context.Context, upsert *store.UpsertPipelineSource) (*store.PipelineSource, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO pipeline_source (pipeline_id, channel) VALUES (?, ?)
		ON CONFLICT(pipeline_id, channel) DO NOTHING`,
		upsert.PipelineID, upsert.Channel)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upsert source %s", upsert.Channel)
	}
	var s store.PipelineSource
	err = q.db.QueryRowContext(ctx, `
		SELECT id, pipeline_id, channel, last_seen_message_id
		FROM pipeline_source WHERE pipeline_id = ? AND channel = ?`,
		upsert.PipelineID, upsert.Channel).
		Scan(&s.ID, &s.PipelineID, &s.Channel, &s.LastSeenMessageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read back pipeline source")
	}
	return &s, nil
}

func (q *queries) AdvancePipelineSource(ctx context.Context, sourceID int64, lastSeenMessageID int64) error {
	// MAX keeps the cursor monotone even if a stale caller passes an old id.
	_, err := q.db.ExecContext(ctx, `
		UPDATE pipeline_source
		SET last_seen_message_id = MAX(last_seen_message_id, ?)
		WHERE id = ?`, lastSeenMessageID, sourceID)
	return errors.Wrapf(err, "failed to advance source %d", sourceID)
}

func (q *queries) GetPipelineState(ctx context.Context, pipelineID int64) (*store.PipelineState, error) {
	if _, err := q.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO pipeline_state (pipeline_id) VALUES (?)", pipelineID); err != nil {
		return nil, errors.Wrap(err, "failed to ensure pipeline state")
	}
	var (
		s     store.PipelineState
		runAt sql.NullInt64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT pipeline_id, current_source_index, total_posts, last_run_at
		FROM pipeline_state WHERE pipeline_id = ?`, pipelineID).
		Scan(&s.PipelineID, &s.CurrentSourceIndex, &s.TotalPosts, &runAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pipeline state")
	}
	s.LastRunAt = timeFromNull(runAt)
	return &s, nil
}

func (q *queries) UpdatePipelineState(ctx context.Context, update *store.UpdatePipelineState) (*store.PipelineState, error) {
	set, args := []string{}, []any{}
	if update.CurrentSourceIndex != nil {
		set, args = append(set, "current_source_index = ?"), append(args, *update.CurrentSourceIndex)
	}
	if update.TotalPosts != nil {
		set, args = append(set, "total_posts = ?"), append(args, *update.TotalPosts)
	}
	if update.LastRunAt != nil {
		set, args = append(set, "last_run_at = ?"), append(args, update.LastRunAt.UTC().Unix())
	}
	if len(set) > 0 {
		args = append(args, update.PipelineID)
		if _, err := q.db.ExecContext(ctx,
			"UPDATE pipeline_state SET "+strings.Join(set, ", ")+" WHERE pipeline_id = ?", args...); err != nil {
			return nil, errors.Wrapf(err, "failed to update pipeline state %d", update.PipelineID)
		}
	}
	return q.GetPipelineState(ctx, update.PipelineID)
}

func (q *queries) AppendPostHistory(ctx context.Context, appendArgs *store.AppendPostHistory) error {
	createdAt := appendArgs.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO post_history (pipeline_id, text, created_at, destination_channel, channel_message_id)
		VALUES (?, ?, ?, ?, ?)`,
		appendArgs.PipelineID, appendArgs.Text, createdAt.UTC().Unix(),
		appendArgs.DestinationChannel, appendArgs.ChannelMessageID)
	if err != nil {
		return errors.Wrap(err, "failed to append post history")
	}
	if appendArgs.Window <= 0 {
		return nil
	}
	_, err = q.db.ExecContext(ctx, `
		DELETE FROM post_history
		WHERE pipeline_id = ? AND id NOT IN (
			SELECT id FROM post_history WHERE pipeline_id = ? ORDER BY id DESC LIMIT ?
		)`, appendArgs.PipelineID, appendArgs.PipelineID, appendArgs.Window)
	return errors.Wrap(err, "failed to prune post history")
}

func (q *queries) ListRecentPostTexts(ctx context.Context, pipelineID int64, limit int) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT text FROM post_history
		WHERE pipeline_id = ? ORDER BY id DESC LIMIT ?`, pipelineID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent post texts")
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errors.Wrap(err, "failed to scan post text")
		}
		texts = append(texts, t)
	}
	return texts, errors.Wrap(rows.Err(), "failed to iterate post texts")
}

func (q *queries) ListRecentPostHistory(ctx context.Context, pipelineID int64, limit int) ([]*store.PostHistory, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, pipeline_id, text, created_at, destination_channel, channel_message_id
		FROM post_history
		WHERE pipeline_id = ? ORDER BY id DESC LIMIT ?`, pipelineID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list post history")
	}
	defer rows.Close()

	var list []*store.PostHistory
	for rows.Next() {
		var (
			h  store.PostHistory
			ts int64
		)
		if err := rows.Scan(&h.ID, &h.PipelineID, &h.Text, &ts, &h.DestinationChannel, &h.ChannelMessageID); err != nil {
			return nil, errors.Wrap(err, "failed to scan post history")
		}
		h.CreatedAt = time.Unix(ts, 0).UTC()
		list = append(list, &h)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate post history")
}

func (q *queries) LatestPostHistoryAt(ctx context.Context, pipelineID int64) (*time.Time, error) {
	var ts sql.NullInt64
	err := q.db.QueryRowContext(ctx,
		"SELECT MAX(created_at) FROM post_history WHERE pipeline_id = ?", pipelineID).Scan(&ts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest post history time")
	}
	return timeFromNull(ts), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
