package store

import "time"

// BotInviteStatus is the invite lifecycle.
type BotInviteStatus string

const (
	InviteStatusPending  BotInviteStatus = "pending"
	InviteStatusAccepted BotInviteStatus = "accepted"
	InviteStatusRevoked  BotInviteStatus = "revoked"
)

// BotInvite grants an operator access to the control surface. Token is a
// UUID; the short code is exchanged once during confirmation.
type BotInvite struct {
	ID        int64
	Token     string
	IssuedBy  string
	IssuedAt  time.Time
	ExpiresAt *time.Time
	Status    BotInviteStatus
	UserID    int64
	Username  string
}

// CreateBotInvite inserts a pending invite.
type CreateBotInvite struct {
	Token     string
	IssuedBy  string
	IssuedAt  time.Time
	ExpiresAt *time.Time
}

// UpdateBotInvite is the partial update condition for an invite.
type UpdateBotInvite struct {
	ID       int64
	Status   *BotInviteStatus
	UserID   *int64
	Username *string
}

// FindBotInvite is the find condition for invites.
type FindBotInvite struct {
	ID     *int64
	Token  *string
	Status *BotInviteStatus
}

// BotInviteCode is a short one-time confirmation code bound to an invite.
type BotInviteCode struct {
	ID       int64
	InviteID int64
	Code     string
	Used     bool
	UsedAt   *time.Time
}

// CreateBotInviteCode inserts an unused code for an invite.
type CreateBotInviteCode struct {
	InviteID int64
	Code     string
}
