package activitypub

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/koasocial/koasocial/domain"
	"github.com/koasocial/koasocial/util"
)

// Activity represents a generic ActivityPub activity
type Activity struct {
	Context interface{} `json:"@context"`
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  interface{} `json:"object"`
}

// FollowActivity represents an ActivityPub Follow activity
type FollowActivity struct {
	Context interface{} `json:"@context"`
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  string      `json:"object"` // URI of the person being followed
}

// HandleInbox processes incoming ActivityPub activities.
// This is the production wrapper that uses the default HTTP client and database.
func HandleInbox(w http.ResponseWriter, r *http.Request, username string, conf *util.AppConfig) {
	HandleInboxWithDeps(w, r, username, conf, defaultHTTPClient, NewDBWrapper())
}

// HandleInboxWithDeps runs the inbox pipeline: parse, authenticate, audit,
// dispatch. Every delivery that authenticates ends in 202, whether or not
// the activity type is implemented. The audit row records the outcome.
func HandleInboxWithDeps(w http.ResponseWriter, r *http.Request, username string, conf *util.AppConfig, client HTTPClient, database Database) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}

	if activity.Type == "" || activity.Actor == "" {
		log.Printf("Inbox: Activity missing type or actor")
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}

	if !isAbsoluteURL(activity.Actor) || (activity.ID != "" && !isAbsoluteURL(activity.ID)) {
		log.Printf("Inbox: Activity with malformed actor or id URL")
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}

	if r.Header.Get("Signature") == "" {
		log.Printf("Inbox: Missing HTTP signature")
		http.Error(w, "Missing signature", http.StatusUnauthorized)
		return
	}
	if r.Header.Get("Date") == "" {
		log.Printf("Inbox: Missing Date header")
		http.Error(w, "Missing date", http.StatusUnauthorized)
		return
	}

	log.Printf("Inbox: Received %s from %s", activity.Type, activity.Actor)

	// Audit row first, outcome updated as the pipeline resolves. An
	// activity without an id still gets a traceable URI.
	activityURI := activity.ID
	if activityURI == "" {
		activityURI = fmt.Sprintf("https://%s/activities/%s", conf.Conf.SslDomain, uuid.New())
	}
	record := &domain.Activity{
		ActivityURI:  activityURI,
		ActivityType: activity.Type,
		ActorURI:     activity.Actor,
		ObjectURI:    objectURIOf(activity.Object),
		Direction:    domain.ActivityInbound,
		Status:       domain.ActivityPending,
		RawJSON:      string(body),
	}
	if err := database.CreateActivity(record); err != nil {
		log.Printf("Inbox: Failed to store activity: %v", err)
	}

	remoteActor, err := GetOrFetchActorWithDeps(activity.Actor, client, database)
	if err != nil {
		log.Printf("Inbox: Failed to fetch actor %s: %v", activity.Actor, err)
		database.UpdateActivityOutcome(record.Id, domain.ActivityFailed, err.Error())
		http.Error(w, "Failed to verify actor", http.StatusBadGateway)
		return
	}

	// The Signature header must name the key the actor advertises.
	if keyId := SignatureKeyId(r); remoteActor.PublicKeyId != "" && keyId != remoteActor.PublicKeyId {
		log.Printf("Inbox: Signature keyId %s does not match actor %s", keyId, activity.Actor)
		database.UpdateActivityOutcome(record.Id, domain.ActivityFailed, "signature keyId mismatch")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	if remoteActor.PublicKeyPem == "" || !VerifySignature(r, body, remoteActor.PublicKeyPem) {
		log.Printf("Inbox: Signature verification failed for %s", activity.Actor)
		database.UpdateActivityOutcome(record.Id, domain.ActivityFailed, "signature verification failed")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	// A shared-inbox delivery carries no path username, the local account
	// comes out of the activity's addressing.
	if username == "" {
		username = resolveSharedInboxTarget(body, conf.Conf.SslDomain)
	}

	var handlerErr error
	switch activity.Type {
	case "Follow":
		handlerErr = handleFollowActivity(body, username, remoteActor, conf, client, database)
	case "Undo":
		handlerErr = handleUndoActivity(body, username, remoteActor, database)
	case "Accept":
		handlerErr = handleAcceptActivity(body, username, remoteActor, database)
	case "Like", "Announce", "Create", "Update", "Delete":
		// Recognized but not implemented for a single-actor instance.
		log.Printf("Inbox: Ignoring %s from %s", activity.Type, activity.Actor)
	default:
		log.Printf("Inbox: Unhandled activity type: %s", activity.Type)
	}

	if handlerErr != nil {
		log.Printf("Inbox: Failed to handle %s: %v", activity.Type, handlerErr)
		database.UpdateActivityOutcome(record.Id, domain.ActivityFailed, handlerErr.Error())
	} else {
		database.UpdateActivityOutcome(record.Id, domain.ActivityProcessed, "")
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleFollowActivity processes a Follow activity: store the incoming
// follow and confirm it with an Accept.
func handleFollowActivity(body []byte, username string, remoteActor *domain.RemoteAccount, conf *util.AppConfig, client HTTPClient, database Database) error {
	var follow FollowActivity
	if err := json.Unmarshal(body, &follow); err != nil {
		return fmt.Errorf("failed to parse Follow activity: %w", err)
	}

	log.Printf("Inbox: Processing Follow from %s@%s", remoteActor.Username, remoteActor.Domain)

	err, localAccount := database.ReadAccByUsername(username)
	if err != nil {
		return fmt.Errorf("local account not found: %w", err)
	}

	// A repeated Follow from the same actor is a no-op, the Accept still
	// goes out so the remote side converges.
	err, existing := database.ReadFollow(localAccount.Id, remoteActor.Id, domain.FollowIncoming)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing follow: %w", err)
	}

	if existing == nil {
		followRecord := &domain.Follow{
			AccountId:       localAccount.Id,
			RemoteAccountId: remoteActor.Id,
			Direction:       domain.FollowIncoming,
			Status:          domain.FollowAccepted,
			URI:             follow.ID,
		}
		if err := database.CreateFollow(followRecord); err != nil {
			return fmt.Errorf("failed to create follow: %w", err)
		}
	}

	if err := SendAcceptWithDeps(localAccount, remoteActor, follow.ID, conf, client, database); err != nil {
		return fmt.Errorf("failed to send Accept: %w", err)
	}

	log.Printf("Inbox: Accepted follow from %s@%s", remoteActor.Username, remoteActor.Domain)
	return nil
}

// handleUndoActivity processes an Undo activity (e.g., Undo Follow)
func handleUndoActivity(body []byte, username string, remoteActor *domain.RemoteAccount, database Database) error {
	var undo struct {
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(body, &undo); err != nil {
		return fmt.Errorf("failed to parse Undo activity: %w", err)
	}

	var obj struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(undo.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse Undo object: %w", err)
	}

	if obj.Type != "Follow" {
		log.Printf("Inbox: Ignoring Undo of %s", obj.Type)
		return nil
	}

	err, localAccount := database.ReadAccByUsername(username)
	if err != nil {
		return fmt.Errorf("local account not found: %w", err)
	}

	if err := database.DeleteFollow(localAccount.Id, remoteActor.Id, domain.FollowIncoming); err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}

	log.Printf("Inbox: Removed follow from %s@%s", remoteActor.Username, remoteActor.Domain)
	return nil
}

// handleAcceptActivity processes an Accept activity (response to Follow)
func handleAcceptActivity(body []byte, username string, remoteActor *domain.RemoteAccount, database Database) error {
	var accept struct {
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(body, &accept); err != nil {
		return fmt.Errorf("failed to parse Accept activity: %w", err)
	}

	var followObj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(accept.Object, &followObj); err != nil {
		return fmt.Errorf("failed to parse Accept object: %w", err)
	}

	err, localAccount := database.ReadAccByUsername(username)
	if err != nil {
		return fmt.Errorf("local account not found: %w", err)
	}

	err, follow := database.ReadFollow(localAccount.Id, remoteActor.Id, domain.FollowOutgoing)
	if err != nil || follow == nil {
		return fmt.Errorf("no pending follow for %s", remoteActor.ActorURI)
	}

	if err := database.UpdateFollowStatus(follow.Id, domain.FollowAccepted); err != nil {
		return fmt.Errorf("failed to accept follow: %w", err)
	}

	log.Printf("Inbox: Follow %s was accepted by %s", followObj.ID, accept.Actor)
	return nil
}

// isAbsoluteURL reports whether raw parses as a URL with a scheme and host.
func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// localUserOf extracts the username from an actor URI on this instance,
// like https://domain/users/alice or its /followers collection. URIs on
// other hosts resolve to "".
func localUserOf(uri string, localDomain string) string {
	if !strings.Contains(uri, localDomain) || !strings.Contains(uri, "/users/") {
		return ""
	}
	parts := strings.Split(uri, "/")
	for i, part := range parts {
		if part == "users" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// resolveSharedInboxTarget works out which local account a shared-inbox
// delivery addresses: "to" first, then "cc", then the object. Undo and
// Accept wrap a Follow whose own object names the local actor, so the
// embedded object's fields are checked as well.
func resolveSharedInboxTarget(body []byte, localDomain string) string {
	var activity map[string]interface{}
	if err := json.Unmarshal(body, &activity); err != nil {
		return ""
	}

	for _, field := range []string{"to", "cc"} {
		switch addr := activity[field].(type) {
		case string:
			if username := localUserOf(addr, localDomain); username != "" {
				return username
			}
		case []interface{}:
			for _, entry := range addr {
				uri, ok := entry.(string)
				if !ok {
					continue
				}
				if username := localUserOf(uri, localDomain); username != "" {
					return username
				}
			}
		}
	}

	switch obj := activity["object"].(type) {
	case string:
		return localUserOf(obj, localDomain)
	case map[string]interface{}:
		if inner, ok := obj["object"].(string); ok {
			if username := localUserOf(inner, localDomain); username != "" {
				return username
			}
		}
		if id, ok := obj["id"].(string); ok {
			return localUserOf(id, localDomain)
		}
	}
	return ""
}

// objectURIOf extracts the object URI from an activity's object field,
// which may be a plain URI or an embedded object.
func objectURIOf(object interface{}) string {
	switch obj := object.(type) {
	case string:
		return obj
	case map[string]interface{}:
		if id, ok := obj["id"].(string); ok {
			return id
		}
	}
	return ""
}
