// Package control is the in-process admin surface the operator bot talks
// to: pipeline switches and operator invites, with every mutation written
// to the audit log.
package control

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/romanmihailow/tg-post-service/internal/clock"
	"github.com/romanmihailow/tg-post-service/store"
)

var (
	// ErrCodeInvalid means the confirmation code is unknown or spent.
	ErrCodeInvalid = errors.New("invite code invalid or already used")
	// ErrInviteUnavailable means the invite is not pending anymore.
	ErrInviteUnavailable = errors.New("invite is not pending")
	// ErrInviteExpired means the invite's expiry passed before confirmation.
	ErrInviteExpired = errors.New("invite expired")
)

// Surface is the admin operation set, decoupled from its transport.
type Surface interface {
	ListPipelines(ctx context.Context) ([]*store.Pipeline, error)
	SetPipelineEnabled(ctx context.Context, actor string, pipelineID int64, enabled bool) (*store.Pipeline, error)
	SetPipelineInterval(ctx context.Context, actor string, pipelineID int64, intervalSec int) (*store.Pipeline, error)

	IssueInvite(ctx context.Context, actor string, ttl time.Duration) (*IssuedInvite, error)
	ConfirmInvite(ctx context.Context, code string, userID int64, username string) (*store.BotInvite, error)
	RevokeInvite(ctx context.Context, actor string, inviteID int64) (*store.BotInvite, error)
	ListInvites(ctx context.Context, status *store.BotInviteStatus) ([]*store.BotInvite, error)
}

// IssuedInvite bundles a fresh invite with its one-time confirmation code.
// The code is shown to the operator once and never stored in the clear
// anywhere else.
type IssuedInvite struct {
	Invite *store.BotInvite
	Code   string
}

// Service is the store-backed Surface.
type Service struct {
	store *store.Store
	audit *AuditLog
	clk   clock.Clock
}

// NewService builds the surface over the given store. audit may be nil.
func NewService(st *store.Store, audit *AuditLog) *Service {
	return &Service{store: st, audit: audit, clk: clock.New()}
}

func (s *Service) ListPipelines(ctx context.Context) ([]*store.Pipeline, error) {
	return s.store.ListPipelines(ctx, &store.FindPipeline{})
}

func (s *Service) SetPipelineEnabled(ctx context.Context, actor string, pipelineID int64, enabled bool) (*store.Pipeline, error) {
	p, err := s.store.UpdatePipeline(ctx, &store.UpdatePipeline{ID: pipelineID, Enabled: &enabled})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.Errorf("pipeline %d not found", pipelineID)
	}
	s.record(actor, "pipeline_enabled_changed", map[string]string{
		"pipeline": p.Name,
		"enabled":  strconv.FormatBool(enabled),
	})
	return p, nil
}

func (s *Service) SetPipelineInterval(ctx context.Context, actor string, pipelineID int64, intervalSec int) (*store.Pipeline, error) {
	if intervalSec < 1 {
		return nil, errors.Errorf("interval must be positive, got %d", intervalSec)
	}
	p, err := s.store.UpdatePipeline(ctx, &store.UpdatePipeline{ID: pipelineID, IntervalSec: &intervalSec})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.Errorf("pipeline %d not found", pipelineID)
	}
	s.record(actor, "pipeline_interval_changed", map[string]string{
		"pipeline":     p.Name,
		"interval_sec": strconv.Itoa(intervalSec),
	})
	return p, nil
}

// IssueInvite creates a pending invite with a UUID token and a short
// one-time confirmation code. ttl <= 0 means the invite never expires.
func (s *Service) IssueInvite(ctx context.Context, actor string, ttl time.Duration) (*IssuedInvite, error) {
	now := s.clk.NowUTC()
	create := &store.CreateBotInvite{
		Token:    uuid.NewString(),
		IssuedBy: actor,
		IssuedAt: now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		create.ExpiresAt = &expires
	}

	session, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	invite, err := session.CreateBotInvite(ctx, create)
	if err != nil {
		_ = session.Rollback()
		return nil, err
	}
	code, err := session.CreateBotInviteCode(ctx, &store.CreateBotInviteCode{
		InviteID: invite.ID,
		Code:     shortuuid.New(),
	})
	if err != nil {
		_ = session.Rollback()
		return nil, err
	}
	if err := session.Commit(); err != nil {
		return nil, err
	}

	s.record(actor, "invite_issued", map[string]string{
		"invite_id": strconv.FormatInt(invite.ID, 10),
		"token":     invite.Token,
	})
	return &IssuedInvite{Invite: invite, Code: code.Code}, nil
}

// ConfirmInvite exchanges a one-time code for operator access, binding the
// platform user to the invite.
func (s *Service) ConfirmInvite(ctx context.Context, code string, userID int64, username string) (*store.BotInvite, error) {
	now := s.clk.NowUTC()
	session, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}

	row, err := session.GetBotInviteCode(ctx, code)
	if err != nil {
		_ = session.Rollback()
		return nil, err
	}
	if row == nil || row.Used {
		_ = session.Rollback()
		return nil, ErrCodeInvalid
	}
	invite, err := session.GetBotInvite(ctx, &store.FindBotInvite{ID: &row.InviteID})
	if err != nil {
		_ = session.Rollback()
		return nil, err
	}
	if invite == nil || invite.Status != store.InviteStatusPending {
		_ = session.Rollback()
		return nil, ErrInviteUnavailable
	}
	if invite.ExpiresAt != nil && !now.Before(*invite.ExpiresAt) {
		_ = session.Rollback()
		return nil, ErrInviteExpired
	}

	if err := session.MarkBotInviteCodeUsed(ctx, row.ID, now); err != nil {
		_ = session.Rollback()
		return nil, err
	}
	accepted := store.InviteStatusAccepted
	invite, err = session.UpdateBotInvite(ctx, &store.UpdateBotInvite{
		ID:       invite.ID,
		Status:   &accepted,
		UserID:   &userID,
		Username: &username,
	})
	if err != nil {
		_ = session.Rollback()
		return nil, err
	}
	if err := session.Commit(); err != nil {
		return nil, err
	}

	s.record(username, "invite_confirmed", map[string]string{
		"invite_id": strconv.FormatInt(invite.ID, 10),
		"user_id":   strconv.FormatInt(userID, 10),
	})
	return invite, nil
}

func (s *Service) RevokeInvite(ctx context.Context, actor string, inviteID int64) (*store.BotInvite, error) {
	revoked := store.InviteStatusRevoked
	invite, err := s.store.UpdateBotInvite(ctx, &store.UpdateBotInvite{ID: inviteID, Status: &revoked})
	if err != nil {
		return nil, err
	}
	if invite == nil {
		return nil, errors.Errorf("invite %d not found", inviteID)
	}
	s.record(actor, "invite_revoked", map[string]string{
		"invite_id": strconv.FormatInt(inviteID, 10),
	})
	return invite, nil
}

func (s *Service) ListInvites(ctx context.Context, status *store.BotInviteStatus) ([]*store.BotInvite, error) {
	return s.store.ListBotInvites(ctx, &store.FindBotInvite{Status: status})
}

// record appends to the audit log; an unwritable log never fails the
// operation itself.
func (s *Service) record(actor, action string, details map[string]string) {
	if err := s.audit.Append(s.clk.NowUTC(), actor, action, details); err != nil {
		slog.Error("audit append failed",
			slog.String("action", action), slog.String("error", err.Error()))
	}
}
