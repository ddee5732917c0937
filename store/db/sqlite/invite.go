package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/romanmihailow/tg-post-service/store"
)

const inviteSelect = `
	SELECT id, token, issued_by, issued_at, expires_at, status, user_id, username
	FROM bot_invite`

func (q *queries) CreateBotInvite(ctx context.Context, create *store.CreateBotInvite) (*store.BotInvite, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO bot_invite (token, issued_by, issued_at, expires_at, status)
		VALUES (?, ?, ?, ?, 'pending')`,
		create.Token, create.IssuedBy, create.IssuedAt.UTC().Unix(), unixOrNil(create.ExpiresAt))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create invite")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read invite id")
	}
	return q.GetBotInvite(ctx, &store.FindBotInvite{ID: &id})
}

func (q *queries) GetBotInvite(ctx context.Context, find *store.FindBotInvite) (*store.BotInvite, error) {
	list, err := q.ListBotInvites(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (q *queries) ListBotInvites(ctx context.Context, find *store.FindBotInvite) ([]*store.BotInvite, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Token != nil {
		where, args = append(where, "token = ?"), append(args, *find.Token)
	}
	if find.Status != nil {
		where, args = append(where, "status = ?"), append(args, string(*find.Status))
	}

	rows, err := q.db.QueryContext(ctx,
		inviteSelect+" WHERE "+strings.Join(where, " AND ")+" ORDER BY id", args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list invites")
	}
	defer rows.Close()

	var list []*store.BotInvite
	for rows.Next() {
		var inv store.BotInvite
		var issuedAt int64
		var expiresAt sql.NullInt64
		var status string
		if err := rows.Scan(&inv.ID, &inv.Token, &inv.IssuedBy, &issuedAt, &expiresAt,
			&status, &inv.UserID, &inv.Username); err != nil {
			return nil, errors.Wrap(err, "failed to scan invite")
		}
		inv.IssuedAt = time.Unix(issuedAt, 0).UTC()
		inv.ExpiresAt = timeFromNull(expiresAt)
		inv.Status = store.BotInviteStatus(status)
		list = append(list, &inv)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate invites")
}

func (q *queries) UpdateBotInvite(ctx context.Context, update *store.UpdateBotInvite) (*store.BotInvite, error) {
	set, args := []string{}, []any{}
	if update.Status != nil {
		set, args = append(set, "status = ?"), append(args, string(*update.Status))
	}
	if update.UserID != nil {
		set, args = append(set, "user_id = ?"), append(args, *update.UserID)
	}
	if update.Username != nil {
		set, args = append(set, "username = ?"), append(args, *update.Username)
	}
	if len(set) > 0 {
		args = append(args, update.ID)
		if _, err := q.db.ExecContext(ctx,
			"UPDATE bot_invite SET "+strings.Join(set, ", ")+" WHERE id = ?", args...); err != nil {
			return nil, errors.Wrapf(err, "failed to update invite %d", update.ID)
		}
	}
	return q.GetBotInvite(ctx, &store.FindBotInvite{ID: &update.ID})
}

func (q *queries) CreateBotInviteCode(ctx context.Context, create *store.CreateBotInviteCode) (*store.BotInviteCode, error) {
	res, err := q.db.ExecContext(ctx,
		"INSERT INTO bot_invite_code (invite_id, code) VALUES (?, ?)",
		create.InviteID, create.Code)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create invite code")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read invite code id")
	}
	var c store.BotInviteCode
	var used int
	var usedAt sql.NullInt64
	err = q.db.QueryRowContext(ctx,
		"SELECT id, invite_id, code, used, used_at FROM bot_invite_code WHERE id = ?", id).
		Scan(&c.ID, &c.InviteID, &c.Code, &used, &usedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read back invite code")
	}
	c.Used = used != 0
	c.UsedAt = timeFromNull(usedAt)
	return &c, nil
}

func (q *queries) GetBotInviteCode(ctx context.Context, code string) (*store.BotInviteCode, error) {
	var c store.BotInviteCode
	var used int
	var usedAt sql.NullInt64
	err := q.db.QueryRowContext(ctx,
		"SELECT id, invite_id, code, used, used_at FROM bot_invite_code WHERE code = ?", code).
		Scan(&c.ID, &c.InviteID, &c.Code, &used, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get invite code")
	}
	c.Used = used != 0
	c.UsedAt = timeFromNull(usedAt)
	return &c, nil
}

func (q *queries) MarkBotInviteCodeUsed(ctx context.Context, id int64, usedAt time.Time) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE bot_invite_code SET used = 1, used_at = ? WHERE id = ? AND used = 0",
		usedAt.UTC().Unix(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark invite code %d used", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.Errorf("invite code %d already used", id)
	}
	return nil
}
