package activitypub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrHandleNotFound means a fediverse handle could not be resolved to an
// actor URI, either because the handle is malformed or the remote
// webfinger lookup came back empty.
var ErrHandleNotFound = errors.New("handle not found")

// WebFingerResponse is the JRD document returned by webfinger endpoints.
type WebFingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebFingerLink `json:"links"`
}

type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// ParseHandle splits a fediverse handle into username and domain.
// Accepts both "@user@host" and "user@host".
func ParseHandle(handle string) (string, string, error) {
	trimmed := strings.TrimPrefix(handle, "@")
	parts := strings.Split(trimmed, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: malformed handle %q", ErrHandleNotFound, handle)
	}
	return parts[0], parts[1], nil
}

// ResolveHandle resolves a fediverse handle to its actor URI via webfinger.
// This is the production wrapper that uses the default HTTP client.
func ResolveHandle(handle string) (string, error) {
	return ResolveHandleWithDeps(handle, defaultHTTPClient)
}

// ResolveHandleWithDeps resolves a handle to an actor URI. Single attempt,
// any miss maps to ErrHandleNotFound.
func ResolveHandleWithDeps(handle string, client HTTPClient) (string, error) {
	username, domainName, err := ParseHandle(handle)
	if err != nil {
		return "", err
	}

	resource := fmt.Sprintf("acct:%s@%s", username, domainName)
	endpoint := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s",
		domainName, url.QueryEscape(resource))

	req, err := http.NewRequest("GET", endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHandleNotFound, err)
	}
	req.Header.Set("Accept", "application/jrd+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: webfinger request failed: %v", ErrHandleNotFound, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: webfinger returned status %d", ErrHandleNotFound, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read webfinger response: %v", ErrHandleNotFound, err)
	}

	var webfinger WebFingerResponse
	if err := json.Unmarshal(body, &webfinger); err != nil {
		return "", fmt.Errorf("%w: failed to parse webfinger response: %v", ErrHandleNotFound, err)
	}

	for _, link := range webfinger.Links {
		if link.Rel == "self" && isActivityJSONType(link.Type) && link.Href != "" {
			return link.Href, nil
		}
	}

	return "", fmt.Errorf("%w: no self link for %s", ErrHandleNotFound, handle)
}

// isActivityJSONType matches the media types servers use for actor links.
func isActivityJSONType(mediaType string) bool {
	switch mediaType {
	case "application/activity+json",
		`application/ld+json; profile="https://www.w3.org/ns/activitystreams"`:
		return true
	}
	return false
}
