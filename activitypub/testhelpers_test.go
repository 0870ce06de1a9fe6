package activitypub

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/koasocial/koasocial/domain"
	"github.com/koasocial/koasocial/util"
)

// httpClientFunc adapts a function to the HTTPClient interface.
type httpClientFunc func(req *http.Request) (*http.Response, error)

func (f httpClientFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// jsonResponse builds an *http.Response with the given status and body.
func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/activity+json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// testKeyPair generates an RSA keypair and returns the parsed private key
// alongside both PEM encodings.
func testKeyPair(t *testing.T) (*rsa.PrivateKey, string, string) {
	t.Helper()
	pair, err := util.GeneratePemKeypair()
	if err != nil {
		t.Fatalf("Failed to generate keypair: %v", err)
	}
	privateKey, err := ParsePrivateKey(pair.Private)
	if err != nil {
		t.Fatalf("Failed to parse generated private key: %v", err)
	}
	return privateKey, pair.Private, pair.Public
}

// testConf returns a config pointing at the test instance domain.
func testConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Host = "127.0.0.1"
	conf.Conf.HttpPort = 8080
	conf.Conf.SslDomain = "koasocial.example"
	conf.Conf.WithAp = true
	return conf
}

// testLocalAccount seeds a local account with a stored keypair.
func testLocalAccount(t *testing.T, mockDB *MockDatabase, username string) *domain.Account {
	t.Helper()
	acc := &domain.Account{
		Id:        uuid.New(),
		Username:  username,
		CreatedAt: time.Now(),
	}
	mockDB.AddAccount(acc)

	_, privatePem, publicPem := testKeyPair(t)
	if err, _ := mockDB.CreateKeyPair(acc.Id, publicPem, privatePem); err != nil {
		t.Fatalf("Failed to seed keypair: %v", err)
	}
	return acc
}

// remoteActorJSON renders a remote actor document for mock servers.
func remoteActorJSON(actorURI string, publicPem string) string {
	return fmt.Sprintf(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": %q,
		"type": "Person",
		"preferredUsername": "bob",
		"inbox": %q,
		"outbox": %q,
		"followers": %q,
		"endpoints": {"sharedInbox": %q},
		"publicKey": {
			"id": %q,
			"owner": %q,
			"publicKeyPem": %q
		}
	}`,
		actorURI,
		actorURI+"/inbox",
		actorURI+"/outbox",
		actorURI+"/followers",
		"https://remote.example/inbox",
		actorURI+"#main-key",
		actorURI,
		publicPem,
	)
}

// signString signs a raw signing string and returns the base64 signature.
func signString(t *testing.T, privateKey *rsa.PrivateKey, signingString string) string {
	t.Helper()
	hash := sha256.Sum256([]byte(signingString))
	sig, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, hash[:])
	if err != nil {
		t.Fatalf("Failed to sign string: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

// signedInboxRequest builds a signed POST carrying the given activity body.
func signedInboxRequest(t *testing.T, target string, body []byte, privateKey *rsa.PrivateKey, keyId string) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", target, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Digest", ComputeDigest(body))
	if err := SignRequest(req, body, privateKey, keyId); err != nil {
		t.Fatalf("Failed to sign request: %v", err)
	}
	return req
}
