package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	headerAPIKey    = "X-Api-Key"
	headerTimestamp = "X-Timestamp"
	headerNonce     = "X-Nonce"
	headerSignature = "X-Signature"
)

var (
	errMissingHeaders  = errors.New("auth: missing required headers")
	errUnknownAPIKey   = errors.New("auth: unknown api key")
	errInvalidSig      = errors.New("auth: signature mismatch")
	errStaleTimestamp  = errors.New("auth: timestamp outside allowed window")
	errNonceReused     = errors.New("auth: nonce already used")
	errMalformedHeader = errors.New("auth: malformed header value")
)

// Principal identifies the caller that produced a valid signature.
type Principal struct {
	APIKey string
}

type nonceRecord struct {
	seen time.Time
}

// Authenticator verifies HMAC-signed requests and rejects replays.
type Authenticator struct {
	secrets map[string]string
	skew    time.Duration
	ttl     time.Duration
	nowFn   func() time.Time

	mu     sync.Mutex
	nonces map[string]nonceRecord
}

// NewAuthenticator constructs an authenticator over the supplied key set.
func NewAuthenticator(keys []APIKeyConfig, skew, ttl time.Duration) (*Authenticator, error) {
	if len(keys) == 0 {
		return nil, errors.New("auth: at least one api key required")
	}
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	if ttl < skew {
		ttl = 2 * skew
	}
	secrets := make(map[string]string, len(keys))
	for _, key := range keys {
		if key.Key == "" || key.Secret == "" {
			return nil, errors.New("auth: api key entries must include key and secret")
		}
		secrets[key.Key] = key.Secret
	}
	return &Authenticator{
		secrets: secrets,
		skew:    skew,
		ttl:     ttl,
		nowFn:   time.Now,
		nonces:  make(map[string]nonceRecord),
	}, nil
}

// Authenticate validates the signature headers on an incoming request. The
// body must be the exact bytes read from the request.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (Principal, error) {
	apiKey := strings.TrimSpace(r.Header.Get(headerAPIKey))
	timestamp := strings.TrimSpace(r.Header.Get(headerTimestamp))
	nonce := strings.TrimSpace(r.Header.Get(headerNonce))
	signature := strings.TrimSpace(r.Header.Get(headerSignature))
	if apiKey == "" || timestamp == "" || nonce == "" || signature == "" {
		return Principal{}, errMissingHeaders
	}

	secret, ok := a.secrets[apiKey]
	if !ok {
		return Principal{}, errUnknownAPIKey
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return Principal{}, errMalformedHeader
	}
	now := a.nowFn()
	issued := time.Unix(ts, 0)
	if issued.Before(now.Add(-a.skew)) || issued.After(now.Add(a.skew)) {
		return Principal{}, errStaleTimestamp
	}

	expected := computeSignature(secret, timestamp, nonce, r.Method, r.URL.Path, body)
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return Principal{}, errMalformedHeader
	}
	if !hmac.Equal(expected, provided) {
		return Principal{}, errInvalidSig
	}

	if err := a.rememberNonce(apiKey, nonce, now); err != nil {
		return Principal{}, err
	}
	return Principal{APIKey: apiKey}, nil
}

func (a *Authenticator) rememberNonce(apiKey, nonce string, now time.Time) error {
	key := apiKey + ":" + nonce
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := now.Add(-a.ttl)
	for existing, record := range a.nonces {
		if record.seen.Before(cutoff) {
			delete(a.nonces, existing)
		}
	}
	if _, seen := a.nonces[key]; seen {
		return errNonceReused
	}
	a.nonces[key] = nonceRecord{seen: now}
	return nil
}

func computeSignature(secret, timestamp, nonce, method, path string, body []byte) []byte {
	bodyHash := sha256.Sum256(body)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s\n%s", timestamp, nonce, strings.ToUpper(method), path, hex.EncodeToString(bodyHash[:]))
	return mac.Sum(nil)
}

// SignRequest produces the hex signature a client should place in the
// X-Signature header. Exposed for tests and client tooling.
func SignRequest(secret, timestamp, nonce, method, path string, body []byte) string {
	return hex.EncodeToString(computeSignature(secret, timestamp, nonce, method, path, body))
}
