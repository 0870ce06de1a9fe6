package domain

import (
	"github.com/google/uuid"
	"time"
)

// Follow directions, seen from the local account.
const (
	FollowIncoming = "incoming" // remote actor follows the local account
	FollowOutgoing = "outgoing" // local account follows the remote actor
)

// Follow statuses.
const (
	FollowPending  = "pending"
	FollowAccepted = "accepted"
)

// Activity directions.
const (
	ActivityInbound  = "inbound"
	ActivityOutbound = "outbound"
)

// Activity processing statuses. A row transitions status at most once:
// pending -> processed|failed, or it is created as sent.
const (
	ActivityPending   = "pending"
	ActivityProcessed = "processed"
	ActivityFailed    = "failed"
	ActivitySent      = "sent"
)

// RemoteAccount is a cached federated actor, keyed by its actor URI.
// Rows are never expired; the raw document is preserved for forward
// compatibility with vocabulary we do not parse.
type RemoteAccount struct {
	Id             uuid.UUID
	ActorURI       string
	Username       string
	Domain         string
	DisplayName    string
	InboxURI       string
	SharedInboxURI string
	OutboxURI      string
	FollowersURI   string
	FollowingURI   string
	PublicKeyId    string
	PublicKeyPem   string
	AvatarURL      string
	RawJSON        string
	CreatedAt      time.Time
	LastFetchedAt  time.Time
}

// Follow is a directed relationship between a local account and a remote
// actor. At most one row exists per (account, remote account, direction).
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID
	RemoteAccountId uuid.UUID
	Direction       string // FollowIncoming or FollowOutgoing
	Status          string // FollowPending or FollowAccepted
	URI             string // ActivityPub Follow activity URI
	CreatedAt       time.Time
}

// Activity is one row of the append-only audit log of every activity
// handled, inbound or outbound.
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Undo, Create, Like, Announce, ...
	ActorURI     string
	ObjectURI    string
	Direction    string // ActivityInbound or ActivityOutbound
	Status       string
	Error        string
	RawJSON      string
	CreatedAt    time.Time
}
