package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/romanmihailow/tg-post-service/store"
)

const personaSelect = `
	SELECT account_name, tone, verbosity, style_hint, topics_json, topic_priority, offtopic_tolerance
	FROM persona`

func (q *queries) GetPersona(ctx context.Context, find *store.FindPersona) (*store.Persona, error) {
	if find.AccountName == nil {
		return nil, errors.New("account name required")
	}
	var p store.Persona
	err := q.db.QueryRowContext(ctx, personaSelect+" WHERE account_name = ?", *find.AccountName).
		Scan(&p.AccountName, &p.Tone, &p.Verbosity, &p.StyleHint, &p.TopicsJSON,
			&p.TopicPriority, &p.OfftopicTolerance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get persona %s", *find.AccountName)
	}
	return &p, nil
}

func (q *queries) ListPersonas(ctx context.Context) ([]*store.Persona, error) {
	rows, err := q.db.QueryContext(ctx, personaSelect+" ORDER BY account_name")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list personas")
	}
	defer rows.Close()

	var list []*store.Persona
	for rows.Next() {
		var p store.Persona
		if err := rows.Scan(&p.AccountName, &p.Tone, &p.Verbosity, &p.StyleHint,
			&p.TopicsJSON, &p.TopicPriority, &p.OfftopicTolerance); err != nil {
			return nil, errors.Wrap(err, "failed to scan persona")
		}
		list = append(list, &p)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate personas")
}

func (q *queries) UpsertPersona(ctx context.Context, upsert *store.UpsertPersona) (*store.Persona, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO persona (account_name, tone, verbosity, style_hint, topics_json, topic_priority, offtopic_tolerance)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_name) DO UPDATE SET
			tone = excluded.tone,
			verbosity = excluded.verbosity,
			style_hint = excluded.style_hint,
			topics_json = excluded.topics_json,
			topic_priority = excluded.topic_priority,
			offtopic_tolerance = excluded.offtopic_tolerance`,
		upsert.AccountName, upsert.Tone, upsert.Verbosity, upsert.StyleHint,
		upsert.TopicsJSON, upsert.TopicPriority, upsert.OfftopicTolerance)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upsert persona %s", upsert.AccountName)
	}
	return q.GetPersona(ctx, &store.FindPersona{AccountName: &upsert.AccountName})
}
