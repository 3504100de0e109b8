package sessions

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

const (
	// DefaultIdleTimeout ends a session after this much inactivity.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultMaxLifetime caps a session regardless of activity.
	DefaultMaxLifetime = 12 * time.Hour

	sessionIDBytes = 32
	nonceBytes     = 16

	defaultStoreTimeout = 3 * time.Second
)

// Session is the server-side state of a browser session.
type Session struct {
	ID               string          `json:"id"`
	PrincipalID      string          `json:"principal_id"`
	TenantID         *string         `json:"tenant_id"`
	Kind             principals.Kind `json:"kind"`
	CreatedAt        time.Time       `json:"created_at"`
	LastActivityAt   time.Time       `json:"last_activity_at"`
	AntiForgeryToken string          `json:"anti_forgery_token"`
}

// Identity projects the session into a request identity.
func (s *Session) Identity() principals.Identity {
	return principals.Identity{
		PrincipalID: s.PrincipalID,
		TenantID:    s.TenantID,
		Kind:        s.Kind,
		SessionID:   s.ID,
	}
}

// Manager stores sessions in Redis.
type Manager struct {
	client      *redis.Client
	keys        cache.Keyspace
	secret      []byte
	idleTimeout time.Duration
	maxLifetime time.Duration
	clock       shared.Clock
	logger      *slog.Logger

	storeTimeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout overrides the inactivity limit.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithMaxLifetime overrides the absolute session lifetime.
func WithMaxLifetime(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.maxLifetime = d
		}
	}
}

// WithClock injects the time source.
func WithClock(clock shared.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithStoreTimeout bounds each Redis round trip.
func WithStoreTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.storeTimeout = d
		}
	}
}

// NewManager constructs a Manager. secret keys the anti-forgery tokens.
func NewManager(client *redis.Client, namespace string, secret []byte, opts ...Option) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("sessions: secret required")
	}
	m := &Manager{
		client:      client,
		keys:        cache.Keyspace(namespace),
		secret:      append([]byte(nil), secret...),
		idleTimeout: DefaultIdleTimeout,
		maxLifetime: DefaultMaxLifetime,
		logger:      slog.Default(),

		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create starts a session for p under a freshly generated identifier.
func (m *Manager) Create(ctx context.Context, p principals.Principal) (*Session, error) {
	id, err := shared.RandomToken(sessionIDBytes)
	if err != nil {
		return nil, fmt.Errorf("sessions: create: %w", err)
	}
	csrf, err := m.antiForgeryToken(id)
	if err != nil {
		return nil, fmt.Errorf("sessions: create: %w", err)
	}
	now := m.clock.Now()
	sess := &Session{
		ID:               id,
		PrincipalID:      p.ID,
		TenantID:         p.TenantID,
		Kind:             p.Kind,
		CreatedAt:        now,
		LastActivityAt:   now,
		AntiForgeryToken: csrf,
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("sessions: encode: %w", err)
	}
	indexKey := m.indexKey(p.ID)
	ctx, cancel := m.bounded(ctx)
	defer cancel()
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, m.sessionKey(id), data, m.idleTimeout)
		pipe.SAdd(ctx, indexKey, id)
		pipe.Expire(ctx, indexKey, m.maxLifetime)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sessions: store: %w", err)
	}
	return sess, nil
}

// Get loads a session without refreshing its activity timestamp.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, shared.ErrSessionExpired
	}
	ctx, cancel := m.bounded(ctx)
	defer cancel()
	data, err := m.client.Get(ctx, m.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrSessionExpired
		}
		return nil, fmt.Errorf("sessions: load: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("sessions: decode: %w", err)
	}
	return &sess, nil
}

// Touch validates the session against the idle and absolute limits and
// records activity. An expired session is removed and ErrSessionExpired is
// returned.
func (m *Manager) Touch(ctx context.Context, id string) (*Session, error) {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if now.Sub(sess.LastActivityAt) > m.idleTimeout || now.Sub(sess.CreatedAt) > m.maxLifetime {
		if err := m.remove(ctx, sess); err != nil {
			m.logger.Error("remove expired session", slog.Any("error", err))
		}
		return nil, shared.ErrSessionExpired
	}
	return m.extend(ctx, sess, now)
}

// extend stores sess with a refreshed activity stamp. It fails with
// ErrSessionExpired when the key vanished since it was read.
func (m *Manager) extend(ctx context.Context, sess *Session, now time.Time) (*Session, error) {
	sess.LastActivityAt = now
	ttl := m.idleTimeout
	if remaining := m.maxLifetime - now.Sub(sess.CreatedAt); remaining < ttl {
		ttl = remaining
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("sessions: encode: %w", err)
	}
	ctx, cancel := m.bounded(ctx)
	defer cancel()
	// XX keeps a concurrent Destroy from being undone by a late touch.
	stored, err := m.client.SetXX(ctx, m.sessionKey(sess.ID), data, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("sessions: touch: %w", err)
	}
	if !stored {
		return nil, shared.ErrSessionExpired
	}
	return sess, nil
}

// Destroy removes a session. Missing sessions are not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	sess, err := m.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrSessionExpired) {
			return nil
		}
		return err
	}
	return m.remove(ctx, sess)
}

// DestroyAllForPrincipal removes every session of a principal.
func (m *Manager) DestroyAllForPrincipal(ctx context.Context, principalID string) error {
	indexKey := m.indexKey(principalID)
	ctx, cancel := m.bounded(ctx)
	defer cancel()
	ids, err := m.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("sessions: list principal sessions: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, m.sessionKey(id))
	}
	keys = append(keys, indexKey)
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("sessions: destroy principal sessions: %w", err)
	}
	return nil
}

// VerifyAntiForgery compares the presented token with the session's token
// in constant time.
func (m *Manager) VerifyAntiForgery(sess *Session, token string) error {
	if sess == nil || sess.AntiForgeryToken == "" || token == "" {
		return shared.ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(sess.AntiForgeryToken), []byte(token)) {
		return shared.ErrCSRFTokenMismatch
	}
	return nil
}

func (m *Manager) remove(ctx context.Context, sess *Session) error {
	ctx, cancel := m.bounded(ctx)
	defer cancel()
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.sessionKey(sess.ID))
		pipe.SRem(ctx, m.indexKey(sess.PrincipalID), sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("sessions: destroy: %w", err)
	}
	return nil
}

func (m *Manager) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.storeTimeout)
}

func (m *Manager) antiForgeryToken(sessionID string) (string, error) {
	nonce, err := shared.RandomToken(nonceBytes)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(sessionID))
	_, _ = mac.Write([]byte{'|'})
	_, _ = mac.Write([]byte(nonce))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (m *Manager) sessionKey(id string) string {
	return m.keys.Key("session", id)
}

func (m *Manager) indexKey(principalID string) string {
	return m.keys.Key("session", "principal", principalID)
}
