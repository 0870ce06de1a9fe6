package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/koasocial/koasocial/domain"
)

const (
	//Keypairs
	sqlInsertKeyPair            = `INSERT INTO keypairs(id, account_id, public_key_pem, private_key_pem, created_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT(account_id) DO NOTHING`
	sqlSelectKeyPairByAccountId = `SELECT id, account_id, public_key_pem, private_key_pem, created_at FROM keypairs WHERE account_id = ?`

	//Remote accounts
	sqlInsertRemoteAccount = `INSERT INTO remote_accounts(id, actor_uri, username, domain, display_name, inbox_uri, shared_inbox_uri, outbox_uri, followers_uri, following_uri, public_key_id, public_key_pem, avatar_url, raw_json, created_at, last_fetched_at)
															VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
															ON CONFLICT(actor_uri) DO NOTHING`
	sqlSelectRemoteAccountByURI = `SELECT id, actor_uri, username, domain, display_name, inbox_uri, shared_inbox_uri, outbox_uri, followers_uri, following_uri, public_key_id, public_key_pem, avatar_url, raw_json, created_at, last_fetched_at FROM remote_accounts WHERE actor_uri = ?`

	//Follows
	sqlInsertFollow = `INSERT INTO follows(id, account_id, remote_account_id, direction, status, uri, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectFollow = `SELECT id, account_id, remote_account_id, direction, status, uri, created_at FROM follows
															WHERE account_id = ? AND remote_account_id = ? AND direction = ?`
	sqlUpdateFollowStatus   = `UPDATE follows SET status = ? WHERE id = ?`
	sqlDeleteFollow         = `DELETE FROM follows WHERE account_id = ? AND remote_account_id = ? AND direction = ?`
	sqlCountFollowsByStatus = `SELECT COUNT(*) FROM follows WHERE account_id = ? AND direction = ? AND status = ?`

	//Activities
	sqlInsertActivity          = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, direction, status, error, raw_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivityByURI     = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, direction, status, error, raw_json, created_at FROM activities WHERE activity_uri = ?`
	sqlUpdateActivityOutcome   = `UPDATE activities SET status = ?, error = ? WHERE id = ? AND status = 'pending'`
)

// CreateKeyPair stores the keypair for an account. If a pair already exists
// the insert is a no-op and the stored pair is returned, so concurrent
// provisioning always converges on one key.
func (db *DB) CreateKeyPair(accountId uuid.UUID, publicPem string, privatePem string) (error, *domain.KeyPair) {
	kp := &domain.KeyPair{
		Id:            uuid.New(),
		AccountId:     accountId,
		PublicKeyPem:  publicPem,
		PrivateKeyPem: privatePem,
		CreatedAt:     time.Now(),
	}

	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertKeyPair, kp.Id.String(), kp.AccountId.String(), kp.PublicKeyPem, kp.PrivateKeyPem, kp.CreatedAt)
		return err
	})
	if err != nil {
		return err, nil
	}
	return db.ReadKeyPairByAccountId(accountId)
}

func (db *DB) ReadKeyPairByAccountId(accountId uuid.UUID) (error, *domain.KeyPair) {
	row := db.db.QueryRow(sqlSelectKeyPairByAccountId, accountId.String())
	var kp domain.KeyPair
	var idStr, accStr string
	err := row.Scan(&idStr, &accStr, &kp.PublicKeyPem, &kp.PrivateKeyPem, &kp.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	kp.Id, _ = uuid.Parse(idStr)
	kp.AccountId, _ = uuid.Parse(accStr)
	return nil, &kp
}

// CreateOrGetRemoteAccount inserts a remote actor keyed by its actor URI.
// When another request has already cached the same actor the existing row
// wins and is returned unchanged.
func (db *DB) CreateOrGetRemoteAccount(acc *domain.RemoteAccount) (error, *domain.RemoteAccount) {
	if acc.Id == uuid.Nil {
		acc.Id = uuid.New()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}
	if acc.LastFetchedAt.IsZero() {
		acc.LastFetchedAt = acc.CreatedAt
	}

	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteAccount,
			acc.Id.String(),
			acc.ActorURI,
			acc.Username,
			acc.Domain,
			acc.DisplayName,
			acc.InboxURI,
			acc.SharedInboxURI,
			acc.OutboxURI,
			acc.FollowersURI,
			acc.FollowingURI,
			acc.PublicKeyId,
			acc.PublicKeyPem,
			acc.AvatarURL,
			acc.RawJSON,
			acc.CreatedAt,
			acc.LastFetchedAt,
		)
		return err
	})
	if err != nil {
		return err, nil
	}
	return db.ReadRemoteAccountByURI(acc.ActorURI)
}

func (db *DB) ReadRemoteAccountByURI(actorURI string) (error, *domain.RemoteAccount) {
	row := db.db.QueryRow(sqlSelectRemoteAccountByURI, actorURI)
	return scanRemoteAccount(row)
}

func scanRemoteAccount(row *sql.Row) (error, *domain.RemoteAccount) {
	var acc domain.RemoteAccount
	var idStr string
	err := row.Scan(&idStr, &acc.ActorURI, &acc.Username, &acc.Domain, &acc.DisplayName,
		&acc.InboxURI, &acc.SharedInboxURI, &acc.OutboxURI, &acc.FollowersURI, &acc.FollowingURI,
		&acc.PublicKeyId, &acc.PublicKeyPem, &acc.AvatarURL, &acc.RawJSON, &acc.CreatedAt, &acc.LastFetchedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

// CreateFollow records a follow edge. The unique constraint on
// (account_id, remote_account_id, direction) rejects duplicates.
func (db *DB) CreateFollow(follow *domain.Follow) error {
	if follow.Id == uuid.Nil {
		follow.Id = uuid.New()
	}
	if follow.CreatedAt.IsZero() {
		follow.CreatedAt = time.Now()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow,
			follow.Id.String(),
			follow.AccountId.String(),
			follow.RemoteAccountId.String(),
			follow.Direction,
			follow.Status,
			follow.URI,
			follow.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadFollow(accountId uuid.UUID, remoteAccountId uuid.UUID, direction string) (error, *domain.Follow) {
	row := db.db.QueryRow(sqlSelectFollow, accountId.String(), remoteAccountId.String(), direction)
	var follow domain.Follow
	var idStr, accStr, remoteStr string
	err := row.Scan(&idStr, &accStr, &remoteStr, &follow.Direction, &follow.Status, &follow.URI, &follow.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	follow.Id, _ = uuid.Parse(idStr)
	follow.AccountId, _ = uuid.Parse(accStr)
	follow.RemoteAccountId, _ = uuid.Parse(remoteStr)
	return nil, &follow
}

func (db *DB) UpdateFollowStatus(id uuid.UUID, status string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFollowStatus, status, id.String())
		return err
	})
}

func (db *DB) DeleteFollow(accountId uuid.UUID, remoteAccountId uuid.UUID, direction string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollow, accountId.String(), remoteAccountId.String(), direction)
		return err
	})
}

func (db *DB) CountFollows(accountId uuid.UUID, direction string, status string) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountFollowsByStatus, accountId.String(), direction, status).Scan(&count)
	if err != nil {
		return err, 0
	}
	return nil, count
}

// CreateActivity appends a row to the activity audit log.
func (db *DB) CreateActivity(activity *domain.Activity) error {
	if activity.Id == uuid.Nil {
		activity.Id = uuid.New()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}
	if activity.Status == "" {
		activity.Status = domain.ActivityPending
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.Direction,
			activity.Status,
			activity.Error,
			activity.RawJSON,
			activity.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadActivityByURI(activityURI string) (error, *domain.Activity) {
	row := db.db.QueryRow(sqlSelectActivityByURI, activityURI)
	var activity domain.Activity
	var idStr string
	err := row.Scan(&idStr, &activity.ActivityURI, &activity.ActivityType, &activity.ActorURI,
		&activity.ObjectURI, &activity.Direction, &activity.Status, &activity.Error, &activity.RawJSON, &activity.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	activity.Id, _ = uuid.Parse(idStr)
	return nil, &activity
}

// UpdateActivityOutcome moves a pending activity to its terminal status.
// Rows already resolved are left untouched.
func (db *DB) UpdateActivityOutcome(id uuid.UUID, status string, errMsg string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivityOutcome, status, errMsg, id.String())
		return err
	})
}
