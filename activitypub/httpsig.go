package activitypub

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// signedHeaderList is the header set included in outgoing signatures.
var signedHeaderList = []string{"(request-target)", "host", "date", "digest", "content-type"}

// maxClockSkew bounds how far a request Date may drift from local time.
const maxClockSkew = 5 * time.Minute

// ComputeDigest returns the Digest header value for a request body.
func ComputeDigest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// SignRequest signs an outgoing HTTP request with the given private key.
// Date and Digest headers are filled in when the caller has not set them.
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, body []byte, privateKey *rsa.PrivateKey, keyId string) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if req.Header.Get("Digest") == "" {
		req.Header.Set("Digest", ComputeDigest(body))
	}
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.URL.Host)
	}

	signingString, err := buildSigningString(req, signedHeaderList)
	if err != nil {
		return fmt.Errorf("failed to build signing string: %w", err)
	}

	hash := sha256.Sum256([]byte(signingString))
	signature, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, hash[:])
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	req.Header.Set("Signature", fmt.Sprintf(
		`keyId="%s",algorithm="rsa-sha256",headers="%s",signature="%s"`,
		keyId,
		strings.Join(signedHeaderList, " "),
		base64.StdEncoding.EncodeToString(signature),
	))

	return nil
}

// VerifySignature checks the HTTP signature on an incoming request against
// the given public key. It resolves to a plain yes/no: a missing header, a
// stale Date, a body not matching the Digest, or a bad signature all read
// the same to the caller.
func VerifySignature(req *http.Request, body []byte, publicKeyPem string) bool {
	params := parseSignatureHeader(req.Header.Get("Signature"))

	if _, ok := params["keyId"]; !ok {
		return false
	}
	sigB64, ok := params["signature"]
	if !ok {
		return false
	}
	signature, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}

	headerList := strings.Fields(params["headers"])
	if len(headerList) == 0 {
		return false
	}

	if !dateWithinSkew(req.Header.Get("Date")) {
		return false
	}

	// A Digest header must match the body whether or not it was signed.
	if received := req.Header.Get("Digest"); received != "" {
		computed := ComputeDigest(body)
		if subtle.ConstantTimeCompare([]byte(received), []byte(computed)) != 1 {
			return false
		}
	}

	signingString, err := buildSigningString(req, headerList)
	if err != nil {
		return false
	}

	publicKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return false
	}

	hash := sha256.Sum256([]byte(signingString))
	return rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, hash[:], signature) == nil
}

// SignatureKeyId extracts the keyId from a request's Signature header.
func SignatureKeyId(req *http.Request) string {
	return parseSignatureHeader(req.Header.Get("Signature"))["keyId"]
}

// buildSigningString concatenates the named headers into the string that
// gets signed, one "name: value" line per header, joined with newlines.
func buildSigningString(req *http.Request, headerList []string) (string, error) {
	lines := make([]string, 0, len(headerList))

	for _, name := range headerList {
		lower := strings.ToLower(name)
		switch lower {
		case "(request-target)":
			target := req.URL.Path
			if target == "" {
				target = "/"
			}
			if req.URL.RawQuery != "" {
				target += "?" + req.URL.RawQuery
			}
			lines = append(lines, fmt.Sprintf("(request-target): %s %s", strings.ToLower(req.Method), target))
		case "host":
			host := req.Host
			if host == "" {
				host = req.URL.Host
			}
			if host == "" {
				host = req.Header.Get("Host")
			}
			if host == "" {
				return "", fmt.Errorf("no host available for signing")
			}
			lines = append(lines, "host: "+host)
		default:
			value := req.Header.Get(name)
			if value == "" {
				return "", fmt.Errorf("signed header %s missing from request", name)
			}
			lines = append(lines, lower+": "+value)
		}
	}

	return strings.Join(lines, "\n"), nil
}

// dateWithinSkew reports whether the Date header parses and sits within
// the accepted clock skew window.
func dateWithinSkew(date string) bool {
	if date == "" {
		return false
	}
	parsed, err := http.ParseTime(date)
	if err != nil {
		return false
	}
	diff := time.Since(parsed)
	if diff < 0 {
		diff = -diff
	}
	return diff <= maxClockSkew
}

// parseSignatureHeader splits a Signature header into its key="value"
// parameters. Malformed pairs are skipped.
func parseSignatureHeader(header string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		idx := strings.Index(part, "=")
		if idx < 1 {
			continue
		}
		key := part[:idx]
		value := strings.Trim(part[idx+1:], `"`)
		params[key] = value
	}
	return params
}

// ParsePrivateKey converts PEM string to *rsa.PrivateKey.
// Accepts both PKCS#1 and PKCS#8 encodings.
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return privateKey, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return rsaKey, nil
}

// ParsePublicKey converts PEM string to *rsa.PublicKey.
// Accepts both PKIX and PKCS#1 encodings.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if pubKey, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPubKey, ok := pubKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaPubKey, nil
	}

	rsaPubKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return rsaPubKey, nil
}
