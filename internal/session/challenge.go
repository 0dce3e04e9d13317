package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"Provenance/internal/address"
	"Provenance/internal/signature"
)

const (
	// DefaultChallengeTTL is how long an issued nonce stays usable.
	DefaultChallengeTTL = 5 * time.Minute

	// nonceSize is the number of random bytes in a nonce.
	nonceSize = 16

	// cleanupInterval is the interval between sweeps of expired nonces.
	cleanupInterval = 1 * time.Second
)

var (
	// ErrUnknownNonce is returned for nonces never issued or already consumed.
	ErrUnknownNonce = errors.New("unknown or consumed nonce")

	// ErrChallengeExpired is returned for nonces past their TTL.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrWrongAddress is returned when a nonce is redeemed for another address.
	ErrWrongAddress = errors.New("challenge issued to another address")
)

// ChallengeConfig fixes the text and context of issued challenges.
type ChallengeConfig struct {
	Application string        // Application names the service in the message
	ChainID     uint8         // ChainID is embedded by chain-qualified formats
	TTL         time.Duration // TTL bounds how long a nonce is valid
}

// Challenge is what a client signs to log in.
type Challenge struct {
	Message   string    `json:"message"`
	Nonce     string    `json:"nonce"`
	Address   string    `json:"address"`
	Formats   []string  `json:"formats"`
	ExpiresAt time.Time `json:"expiresAt"`

	chainID     uint8
	application string
}

// Signable returns the logical challenge for signature verification.
func (c *Challenge) Signable() signature.Challenge {
	return signature.Challenge{
		Message:     c.Message,
		Nonce:       c.Nonce,
		Address:     c.Address,
		Application: c.application,
		ChainID:     c.chainID,
	}
}

// pending is an issued, unconsumed challenge.
type pending struct {
	challenge *Challenge
	expires   int64 // expires is unix nano
}

// Challenges issues single-use login challenges. Nonces are indexed by
// their blake3 digest and swept after TTL.
type Challenges struct {
	cfg     ChallengeConfig
	formats []string
	now     func() time.Time

	mu      sync.Mutex
	pending map[[32]byte]pending

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewChallenges creates a challenge book and starts its sweeper.
// formats lists the encodings clients may sign with, richest first.
func NewChallenges(cfg ChallengeConfig, formats []signature.Format) *Challenges {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultChallengeTTL
	}

	if cfg.Application == "" {
		cfg.Application = "Provenance"
	}

	c := &Challenges{
		cfg:     cfg,
		formats: signature.FormatNames(formats),
		now:     time.Now,
		pending: make(map[[32]byte]pending),
		stop:    make(chan struct{}),
	}

	c.startCleanup()

	return c
}

// Issue creates a challenge for addr.
func (c *Challenges) Issue(addr address.Address) (*Challenge, error) {
	var raw [nonceSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return nil, fmt.Errorf("generate nonce:\n%w", err)
	}
	nonce := hex.EncodeToString(raw[:])

	now := c.now()
	ch := &Challenge{
		Message:     fmt.Sprintf("Sign in to %s as %s", c.cfg.Application, addr.Short()),
		Nonce:       nonce,
		Address:     addr.String(),
		Formats:     c.formats,
		ExpiresAt:   now.Add(c.cfg.TTL),
		chainID:     c.cfg.ChainID,
		application: c.cfg.Application,
	}

	c.mu.Lock()
	c.pending[blake3.Sum256([]byte(nonce))] = pending{challenge: ch, expires: ch.ExpiresAt.UnixNano()}
	c.mu.Unlock()

	return ch, nil
}

// Consume redeems nonce for addr. A nonce is removed on its first
// redemption whatever the outcome, so a failed attempt needs a new one.
func (c *Challenges) Consume(nonce string, addr address.Address) (*Challenge, error) {
	key := blake3.Sum256([]byte(nonce))

	c.mu.Lock()
	p, ok := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()

	if !ok {
		return nil, ErrUnknownNonce
	}

	if c.now().UnixNano() >= p.expires {
		return nil, ErrChallengeExpired
	}

	if p.challenge.Address != addr.String() {
		return nil, ErrWrongAddress
	}

	return p.challenge, nil
}

// Len returns the number of outstanding challenges.
func (c *Challenges) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// Close stops the sweeper.
func (c *Challenges) Close() {
	close(c.stop)
	c.wg.Wait()
}

// startCleanup starts the background sweeper.
func (c *Challenges) startCleanup() {
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.cleanup()
			case <-c.stop:
				return
			}
		}
	}()
}

// cleanup removes expired challenges.
func (c *Challenges) cleanup() {
	now := c.now().UnixNano()

	c.mu.Lock()

	for key, p := range c.pending {
		if now >= p.expires {
			delete(c.pending, key)
		}
	}

	c.mu.Unlock()
}
