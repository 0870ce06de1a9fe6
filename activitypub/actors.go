package activitypub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/koasocial/koasocial/domain"
)

// ErrRemoteActorUnreachable means a remote actor document could not be
// fetched or did not carry the fields federation needs.
var ErrRemoteActorUnreachable = errors.New("remote actor unreachable")

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Followers         string      `json:"followers"`
	Following         string      `json:"following"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	Icon struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"icon"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// ActorDocument is the actor representation served for local accounts.
// Optional media fields are pointers so they are omitted, not null, when
// the account has none.
type ActorDocument struct {
	Context           interface{}    `json:"@context"`
	ID                string         `json:"id"`
	Type              string         `json:"type"`
	PreferredUsername string         `json:"preferredUsername"`
	Name              string         `json:"name,omitempty"`
	Summary           string         `json:"summary,omitempty"`
	Inbox             string         `json:"inbox"`
	Outbox            string         `json:"outbox"`
	Followers         string         `json:"followers"`
	Following         string         `json:"following"`
	Endpoints         ActorEndpoints `json:"endpoints"`
	Icon              *ActorImage    `json:"icon,omitempty"`
	Image             *ActorImage    `json:"image,omitempty"`
	PublicKey         ActorPublicKey `json:"publicKey"`
	Published         string         `json:"published,omitempty"`
}

type ActorEndpoints struct {
	SharedInbox string `json:"sharedInbox"`
}

type ActorImage struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
}

type ActorPublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// BuildActorDocument assembles the actor document for a local account.
// It is pure: no IO, the caller supplies the public key PEM.
func BuildActorDocument(account *domain.Account, publicKeyPem string, domainName string) *ActorDocument {
	actorURI := fmt.Sprintf("https://%s/users/%s", domainName, account.Username)

	doc := &ActorDocument{
		Context: []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		ID:                actorURI,
		Type:              "Person",
		PreferredUsername: account.Username,
		Name:              account.DisplayName,
		Summary:           account.Summary,
		Inbox:             actorURI + "/inbox",
		Outbox:            actorURI + "/outbox",
		Followers:         actorURI + "/followers",
		Following:         actorURI + "/following",
		Endpoints: ActorEndpoints{
			SharedInbox: fmt.Sprintf("https://%s/inbox", domainName),
		},
		PublicKey: ActorPublicKey{
			ID:           actorURI + "#main-key",
			Owner:        actorURI,
			PublicKeyPem: publicKeyPem,
		},
	}

	if !account.CreatedAt.IsZero() {
		doc.Published = account.CreatedAt.UTC().Format(time.RFC3339)
	}
	if account.AvatarURL != "" {
		doc.Icon = &ActorImage{Type: "Image", URL: account.AvatarURL}
	}
	if account.BannerURL != "" {
		doc.Image = &ActorImage{Type: "Image", URL: account.BannerURL}
	}

	return doc
}

// FetchRemoteActor fetches an actor from a remote server and stores in cache.
// This is the production wrapper that uses the default HTTP client and database.
func FetchRemoteActor(actorURI string) (*domain.RemoteAccount, error) {
	return FetchRemoteActorWithDeps(actorURI, defaultHTTPClient, NewDBWrapper())
}

// FetchRemoteActorWithDeps fetches an actor from a remote server and stores
// in cache. This version accepts dependencies for testing.
func FetchRemoteActorWithDeps(actorURI string, client HTTPClient, database Database) (*domain.RemoteAccount, error) {
	req, err := http.NewRequest("GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid actor URI: %v", ErrRemoteActorUnreachable, err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteActorUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: actor fetch returned status %d", ErrRemoteActorUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrRemoteActorUnreachable, err)
	}

	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("%w: failed to parse actor JSON: %v", ErrRemoteActorUnreachable, err)
	}

	// Validate required fields
	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("%w: actor missing required fields", ErrRemoteActorUnreachable)
	}

	domainName, err := extractDomain(actor.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteActorUnreachable, err)
	}

	publicKeyId := actor.PublicKey.ID
	if publicKeyId == "" {
		publicKeyId = actor.ID + "#main-key"
	}

	username := actor.PreferredUsername
	if username == "" {
		username = extractUsername(actor.ID)
	}

	remoteAcc := &domain.RemoteAccount{
		ActorURI:       actor.ID,
		Username:       username,
		Domain:         domainName,
		DisplayName:    actor.Name,
		InboxURI:       actor.Inbox,
		SharedInboxURI: actor.Endpoints.SharedInbox,
		OutboxURI:      actor.Outbox,
		FollowersURI:   actor.Followers,
		FollowingURI:   actor.Following,
		PublicKeyId:    publicKeyId,
		PublicKeyPem:   actor.PublicKey.PublicKeyPem,
		AvatarURL:      actor.Icon.URL,
		RawJSON:        string(body),
		LastFetchedAt:  time.Now(),
	}

	// Concurrent fetches of the same actor converge on one cached row.
	err, stored := database.CreateOrGetRemoteAccount(remoteAcc)
	if err != nil {
		return nil, fmt.Errorf("failed to store remote account: %w", err)
	}

	return stored, nil
}

// GetOrFetchActor returns actor from cache or fetches if not cached.
// This is the production wrapper that uses the default HTTP client and database.
func GetOrFetchActor(actorURI string) (*domain.RemoteAccount, error) {
	return GetOrFetchActorWithDeps(actorURI, defaultHTTPClient, NewDBWrapper())
}

// GetOrFetchActorWithDeps returns actor from cache or fetches if not cached.
// A cached row always wins, cache entries do not expire.
func GetOrFetchActorWithDeps(actorURI string, client HTTPClient, database Database) (*domain.RemoteAccount, error) {
	err, cached := database.ReadRemoteAccountByURI(actorURI)
	if err == nil && cached != nil {
		return cached, nil
	}

	return FetchRemoteActorWithDeps(actorURI, client, database)
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("actor URI has no host: %s", actorURI)
	}

	return parsed.Host, nil
}

// extractUsername extracts username from various URI formats
// Examples:
// - "https://example.com/users/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func extractUsername(uri string) string {
	parts := strings.Split(uri, "/")
	if len(parts) > 0 {
		username := parts[len(parts)-1]
		return strings.TrimPrefix(username, "@")
	}
	return ""
}
