// Package turnrest mints coturn-compatible ephemeral TURN credentials for
// the ICE configuration handed to signaling clients.
//
// See:
//   - https://github.com/coturn/coturn/wiki/turnserver
//   - https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest
//
// The scheme is fixed by coturn:
//
//	username   = <unix_expiry_timestamp>:<username_prefix>:<client_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config configures a credential Generator. Now and ClientIDSource exist for
// tests; nil values select the system clock and a crypto/rand hex ID.
type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	Now            func() time.Time
	ClientIDSource func() (string, error)
}

// Generator mints time-limited TURN credentials from a shared secret known to
// the TURN server. It never talks to the TURN server itself.
type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string

	now      func() time.Time
	clientID func() (string, error)
}

func New(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("turnrest: ttl must be positive")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("turnrest: username prefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("turnrest: username prefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ClientIDSource == nil {
		cfg.ClientIDSource = randomClientID
	}
	return &Generator{
		secret:   []byte(cfg.SharedSecret),
		ttl:      cfg.TTL,
		prefix:   cfg.UsernamePrefix,
		now:      cfg.Now,
		clientID: cfg.ClientIDSource,
	}, nil
}

// Credentials is one short-lived username/credential pair.
type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

// Mint creates credentials bound to clientID, valid until now+TTL.
func (g *Generator) Mint(clientID string) (Credentials, error) {
	if clientID == "" {
		return Credentials{}, errors.New("turnrest: client id is required")
	}
	if strings.Contains(clientID, ":") {
		return Credentials{}, errors.New("turnrest: client id must not contain ':'")
	}

	expiresAt := g.now().UTC().Add(g.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expiresAt.Unix(), g.prefix, clientID)

	mac := hmac.New(sha1.New, g.secret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiresAt:  expiresAt,
	}, nil
}

// MintRandom creates credentials with a random client ID, for callers that
// have no stable per-client identifier.
func (g *Generator) MintRandom() (Credentials, error) {
	id, err := g.clientID()
	if err != nil {
		return Credentials{}, err
	}
	return g.Mint(id)
}

func randomClientID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
