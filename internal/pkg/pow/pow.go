/*
Package pow implements the proof-of-work gate in front of account signup.

A client requests a challenge, searches for a counter whose SHA-256 of
challenge+counter has the required number of leading hex zeros, and trades the
solution for a short-lived single-use proof token. Signup consumes that token.
*/
package pow

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// TokenHeaderKey is the HTTP header carrying the proof token.
	TokenHeaderKey = "X-PoW-Token"

	// TokenQueryKey is the query parameter fallback for the proof token.
	TokenQueryKey = "pow_token"

	// ProofTokenDuration is how long an issued proof token stays redeemable.
	ProofTokenDuration = 2 * time.Minute

	// ChallengeExpiryDuration is how long a challenge may be solved.
	ChallengeExpiryDuration = 5 * time.Minute
)

var (
	ErrChallengeExpired   = errors.New("pow: challenge expired or unknown")
	ErrInsufficientWork   = errors.New("pow: proof does not meet difficulty")
	ErrChallengeConsumed  = errors.New("pow: challenge already redeemed")
	ErrProofTokenRequired = errors.New("pow: proof token missing or expired")
)

// Challenge is handed to the client to solve.
type Challenge struct {
	Nonce      string    `json:"nonce"`
	Difficulty int       `json:"difficulty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Manager tracks outstanding challenges and issued proof tokens. Safe for concurrent use.
type Manager struct {
	difficulty int

	mu         sync.Mutex
	challenges map[string]time.Time
	tokens     map[string]time.Time

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// NewManager creates a Manager and starts its expiry sweep.
func NewManager(difficulty int) *Manager {
	m := &Manager{
		difficulty: difficulty,
		challenges: make(map[string]time.Time),
		tokens:     make(map[string]time.Time),
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go m.sweep(time.Minute)

	return m
}

// Difficulty returns the number of leading zero hex digits required.
func (m *Manager) Difficulty() int {
	return m.difficulty
}

// NewChallenge issues a fresh challenge.
func (m *Manager) NewChallenge() Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()

	nonce := uuid.New().String()
	expires := m.now().Add(ChallengeExpiryDuration)
	m.challenges[nonce] = expires

	return Challenge{Nonce: nonce, Difficulty: m.difficulty, ExpiresAt: expires}
}

// Meets reports whether sha256(nonce+counter) has difficulty leading zeros.
func Meets(nonce, counter string, difficulty int) bool {
	hash := sha256.Sum256([]byte(nonce + counter))
	return strings.HasPrefix(hex.EncodeToString(hash[:]), strings.Repeat("0", difficulty))
}

// Redeem checks a solution and, if valid, consumes the challenge and returns a proof token.
func (m *Manager) Redeem(nonce, counter string) (string, error) {
	m.mu.Lock()
	expiry, ok := m.challenges[nonce]
	m.mu.Unlock()

	if !ok || m.now().After(expiry) {
		return "", ErrChallengeExpired
	}

	// Hashing happens outside the lock.
	if !Meets(nonce, counter, m.difficulty) {
		return "", ErrInsufficientWork
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.challenges[nonce]; !ok {
		return "", ErrChallengeConsumed
	}
	delete(m.challenges, nonce)

	token := uuid.New().String()
	m.tokens[token] = m.now().Add(ProofTokenDuration)
	return token, nil
}

// ConsumeToken redeems the proof token carried by r. A token is valid once.
func (m *Manager) ConsumeToken(r *http.Request) error {
	token := r.Header.Get(TokenHeaderKey)
	if token == "" {
		token = r.URL.Query().Get(TokenQueryKey)
	}
	if token == "" {
		return ErrProofTokenRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.tokens[token]
	if !ok {
		return ErrProofTokenRequired
	}
	delete(m.tokens, token)

	if m.now().After(expiry) {
		return ErrProofTokenRequired
	}
	return nil
}

// Stop ends the expiry sweep.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Manager) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.purge()
		}
	}
}

func (m *Manager) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for nonce, expiry := range m.challenges {
		if now.After(expiry) {
			delete(m.challenges, nonce)
		}
	}
	for token, expiry := range m.tokens {
		if now.After(expiry) {
			delete(m.tokens, token)
		}
	}
}
