package activitypub

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/koasocial/koasocial/domain"
	"github.com/koasocial/koasocial/util"
)

// ErrAlreadyFollowing means an outgoing follow for this actor already exists.
var ErrAlreadyFollowing = errors.New("already following this actor")

// ErrNotFollowing means there is no outgoing follow to undo.
var ErrNotFollowing = errors.New("not following this actor")

// SendActivity signs an activity and posts it to a remote inbox.
// This is the production wrapper that uses the default HTTP client and database.
func SendActivity(activity interface{}, inboxURI string, localAccount *domain.Account, conf *util.AppConfig) error {
	return SendActivityWithDeps(activity, inboxURI, localAccount, conf, defaultHTTPClient, NewDBWrapper())
}

// SendActivityWithDeps marshals, signs and delivers one activity. A single
// attempt, no retry queue: the caller decides what a failure means.
func SendActivityWithDeps(activity interface{}, inboxURI string, localAccount *domain.Account, conf *util.AppConfig, client HTTPClient, database Database) error {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return deliverSigned(activityJSON, inboxURI, localAccount, conf, client, database)
}

// deliverSigned posts a pre-marshaled activity with an HTTP signature.
func deliverSigned(activityJSON []byte, inboxURI string, localAccount *domain.Account, conf *util.AppConfig, client HTTPClient, database Database) error {
	keyPair, err := GetOrCreateKeyPair(database, localAccount.Id)
	if err != nil {
		return err
	}

	privateKey, err := ParsePrivateKey(keyPair.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyProvisioning, err)
	}

	req, err := http.NewRequest("POST", inboxURI, bytes.NewReader(activityJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Digest", ComputeDigest(activityJSON))

	keyID := fmt.Sprintf("https://%s/users/%s#main-key", conf.Conf.SslDomain, localAccount.Username)
	if err := SignRequest(req, activityJSON, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	log.Printf("Delivery: Sent activity to %s (status: %d)", inboxURI, resp.StatusCode)
	return nil
}

// SendAccept sends an Accept activity in response to a Follow.
func SendAccept(localAccount *domain.Account, remoteActor *domain.RemoteAccount, followID string, conf *util.AppConfig) error {
	return SendAcceptWithDeps(localAccount, remoteActor, followID, conf, defaultHTTPClient, NewDBWrapper())
}

// SendAcceptWithDeps sends an Accept for a received Follow and appends the
// outbound audit row.
func SendAcceptWithDeps(localAccount *domain.Account, remoteActor *domain.RemoteAccount, followID string, conf *util.AppConfig, client HTTPClient, database Database) error {
	acceptID := fmt.Sprintf("https://%s/activities/%s", conf.Conf.SslDomain, uuid.New())
	actorURI := fmt.Sprintf("https://%s/users/%s", conf.Conf.SslDomain, localAccount.Username)

	accept := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       acceptID,
		"type":     "Accept",
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     followID,
			"type":   "Follow",
			"actor":  remoteActor.ActorURI,
			"object": actorURI,
		},
	}

	err := SendActivityWithDeps(accept, remoteActor.InboxURI, localAccount, conf, client, database)
	recordOutbound(database, acceptID, "Accept", actorURI, followID, accept, err)
	return err
}

// FollowRemote follows a remote actor on behalf of a local account. target
// is either a fediverse handle or an actor URL.
func FollowRemote(localAccount *domain.Account, target string, conf *util.AppConfig) error {
	return FollowRemoteWithDeps(localAccount, target, conf, defaultHTTPClient, NewDBWrapper())
}

// FollowRemoteWithDeps resolves the target, guards against duplicate
// follows, and sends a signed Follow. The pending follow row is only
// written once the remote inbox took the activity.
func FollowRemoteWithDeps(localAccount *domain.Account, target string, conf *util.AppConfig, client HTTPClient, database Database) error {
	actorURI, err := resolveTarget(target, client)
	if err != nil {
		return err
	}

	remoteActor, err := GetOrFetchActorWithDeps(actorURI, client, database)
	if err != nil {
		return err
	}

	err, existing := database.ReadFollow(localAccount.Id, remoteActor.Id, domain.FollowOutgoing)
	if err == nil && existing != nil {
		return ErrAlreadyFollowing
	}
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing follow: %w", err)
	}

	followID := fmt.Sprintf("https://%s/activities/%s", conf.Conf.SslDomain, uuid.New())
	localActorURI := fmt.Sprintf("https://%s/users/%s", conf.Conf.SslDomain, localAccount.Username)

	follow := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       followID,
		"type":     "Follow",
		"actor":    localActorURI,
		"object":   remoteActor.ActorURI,
	}

	err = SendActivityWithDeps(follow, remoteActor.InboxURI, localAccount, conf, client, database)
	recordOutbound(database, followID, "Follow", localActorURI, remoteActor.ActorURI, follow, err)
	if err != nil {
		return fmt.Errorf("failed to deliver Follow: %w", err)
	}

	followRecord := &domain.Follow{
		AccountId:       localAccount.Id,
		RemoteAccountId: remoteActor.Id,
		Direction:       domain.FollowOutgoing,
		Status:          domain.FollowPending,
		URI:             followID,
	}
	if err := database.CreateFollow(followRecord); err != nil {
		return fmt.Errorf("failed to store follow: %w", err)
	}

	log.Printf("Delivery: Sent Follow to %s@%s", remoteActor.Username, remoteActor.Domain)
	return nil
}

// UnfollowRemote undoes an outgoing follow. The local follow row goes away
// even when the remote inbox cannot be reached, so local state never sticks
// to a dead server.
func UnfollowRemote(localAccount *domain.Account, target string, conf *util.AppConfig) error {
	return UnfollowRemoteWithDeps(localAccount, target, conf, defaultHTTPClient, NewDBWrapper())
}

func UnfollowRemoteWithDeps(localAccount *domain.Account, target string, conf *util.AppConfig, client HTTPClient, database Database) error {
	actorURI, err := resolveTarget(target, client)
	if err != nil {
		return err
	}

	err, remoteActor := database.ReadRemoteAccountByURI(actorURI)
	if err != nil || remoteActor == nil {
		return ErrNotFollowing
	}

	err, existing := database.ReadFollow(localAccount.Id, remoteActor.Id, domain.FollowOutgoing)
	if err != nil || existing == nil {
		return ErrNotFollowing
	}

	undoID := fmt.Sprintf("https://%s/activities/%s", conf.Conf.SslDomain, uuid.New())
	localActorURI := fmt.Sprintf("https://%s/users/%s", conf.Conf.SslDomain, localAccount.Username)

	undo := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       undoID,
		"type":     "Undo",
		"actor":    localActorURI,
		"object": map[string]interface{}{
			"id":     existing.URI,
			"type":   "Follow",
			"actor":  localActorURI,
			"object": remoteActor.ActorURI,
		},
	}

	if err := database.DeleteFollow(localAccount.Id, remoteActor.Id, domain.FollowOutgoing); err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}

	err = SendActivityWithDeps(undo, remoteActor.InboxURI, localAccount, conf, client, database)
	recordOutbound(database, undoID, "Undo", localActorURI, existing.URI, undo, err)
	if err != nil {
		log.Printf("Delivery: Undo delivery to %s failed: %v", remoteActor.InboxURI, err)
	} else {
		log.Printf("Delivery: Sent Undo to %s@%s", remoteActor.Username, remoteActor.Domain)
	}

	return nil
}

// resolveTarget turns a follow target into an actor URI. URLs pass
// through, anything else is treated as a handle.
func resolveTarget(target string, client HTTPClient) (string, error) {
	if strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "http://") {
		return target, nil
	}
	return ResolveHandleWithDeps(target, client)
}

// recordOutbound appends the audit row for an outbound activity.
func recordOutbound(database Database, activityURI string, activityType string, actorURI string, objectURI string, activity interface{}, deliveryErr error) {
	raw, err := json.Marshal(activity)
	if err != nil {
		raw = []byte("{}")
	}

	record := &domain.Activity{
		ActivityURI:  activityURI,
		ActivityType: activityType,
		ActorURI:     actorURI,
		ObjectURI:    objectURI,
		Direction:    domain.ActivityOutbound,
		Status:       domain.ActivitySent,
		RawJSON:      string(raw),
	}
	if deliveryErr != nil {
		record.Status = domain.ActivityFailed
		record.Error = deliveryErr.Error()
	}

	if err := database.CreateActivity(record); err != nil {
		log.Printf("Delivery: Failed to store outbound activity: %v", err)
	}
}
