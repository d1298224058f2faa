package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-vibe/queue-sync/pkg/apperr"
	"github.com/aura-vibe/queue-sync/pkg/database"
	"github.com/aura-vibe/queue-sync/pkg/events"
	"github.com/aura-vibe/queue-sync/pkg/locker"
	"github.com/aura-vibe/queue-sync/pkg/logger"
	"github.com/aura-vibe/queue-sync/pkg/models"
)

const (
	codeLength      = 6
	codeCharset     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts = 100

	DefaultMaxParticipants = 50
)

// Cache is an optional read-through cache for session lookups.
type Cache interface {
	Get(ctx context.Context, code string) (*models.Session, error)
	Set(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, code string) error
}

// Registry owns sessions: it hands out codes and answers "does this session
// exist" and "is this caller its host".
type Registry struct {
	store  database.Store
	cache  Cache
	locks  *locker.Keyed
	events *events.Emitter

	maxParticipants int

	// createMu makes check-then-insert of a fresh code atomic.
	createMu sync.Mutex
	generate func() string
}

// NewRegistry builds a registry. cache and emitter may be nil. locks must be
// the same keyed locker the queue and ledger use.
func NewRegistry(store database.Store, cache Cache, locks *locker.Keyed, emitter *events.Emitter) *Registry {
	return &Registry{
		store:           store,
		cache:           cache,
		locks:           locks,
		events:          emitter,
		maxParticipants: DefaultMaxParticipants,
		generate:        generateCode,
	}
}

// SetMaxParticipants caps the roster of every session. n <= 0 removes the cap.
func (r *Registry) SetMaxParticipants(n int) {
	r.maxParticipants = n
}

func generateCode() string {
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeCharset[rand.Intn(len(codeCharset))]
	}
	return string(code)
}

// Create opens a session hosted by hostID. An empty hostID gets a fresh
// uuid, which the caller must hand back to the host.
func (r *Registry) Create(ctx context.Context, hostID, name string) (*models.Session, error) {
	hostID = strings.TrimSpace(hostID)
	if hostID == "" {
		hostID = uuid.NewString()
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	code, err := r.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		Code:   code,
		HostID: hostID,
		Name:   strings.TrimSpace(name),
		Active: true,
	}
	if err := r.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	host := &models.Participant{SessionCode: code, UserID: hostID, IsHost: true}
	if _, err := r.store.AddParticipant(ctx, host); err != nil {
		return nil, fmt.Errorf("failed to record host: %w", err)
	}

	r.cacheSet(ctx, session)
	r.events.Emit(events.EventTypeSessionCreated, code, hostID, events.SessionPayload{HostID: hostID, Name: session.Name})

	logger.Info("session created",
		logger.String("session", code),
		logger.String("host", hostID))
	return session, nil
}

func (r *Registry) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := r.generate()
		// ended codes stay taken: queue items and votes are keyed by code
		inUse, err := r.store.SessionCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check session code: %w", err)
		}
		if !inUse {
			return code, nil
		}
		logger.Debug("session code collision", logger.String("code", code))
	}
	return "", fmt.Errorf("no free session code after %d attempts", maxCodeAttempts)
}

// Resolve returns the active session for code or apperr.ErrSessionNotFound.
func (r *Registry) Resolve(ctx context.Context, code string) (*models.Session, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, apperr.ErrSessionNotFound
	}

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, code)
		if err != nil {
			logger.Warn("session cache read failed", logger.ErrorField(err), logger.String("session", code))
		} else if cached != nil && cached.Active {
			return cached, nil
		}
	}

	session, err := r.store.GetSession(ctx, code)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if !session.Active {
		return nil, apperr.ErrSessionNotFound
	}

	r.cacheSet(ctx, session)
	return session, nil
}

// AssertHost fails with apperr.ErrForbidden unless callerID hosts code.
func (r *Registry) AssertHost(ctx context.Context, code, callerID string) (*models.Session, error) {
	session, err := r.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	if callerID == "" || callerID != session.HostID {
		return nil, apperr.ErrForbidden
	}
	return session, nil
}

// Join puts userID on the session roster. Joining twice returns the
// existing entry; a new user past the cap gets apperr.ErrSessionFull.
func (r *Registry) Join(ctx context.Context, code, userID, username string) (*models.Session, *models.Participant, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, fmt.Errorf("user id required: %w", apperr.ErrInvalidInput)
	}
	session, err := r.Resolve(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	unlock := r.locks.Lock(session.Code)
	defer unlock()

	roster, err := r.store.ListParticipants(ctx, session.Code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list participants: %w", err)
	}
	for _, p := range roster {
		if p.UserID == userID {
			return session, p, nil
		}
	}
	if r.maxParticipants > 0 && len(roster) >= r.maxParticipants {
		return nil, nil, apperr.ErrSessionFull
	}

	p := &models.Participant{
		SessionCode: session.Code,
		UserID:      userID,
		Username:    strings.TrimSpace(username),
		IsHost:      userID == session.HostID,
	}
	if _, err := r.store.AddParticipant(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("failed to add participant: %w", err)
	}

	logger.Info("participant joined",
		logger.String("session", session.Code),
		logger.String("user", userID))
	return session, p, nil
}

// Participants lists the roster of an active session in join order.
func (r *Registry) Participants(ctx context.Context, code string) ([]*models.Participant, error) {
	session, err := r.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	participants, err := r.store.ListParticipants(ctx, session.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return participants, nil
}

// End deactivates the session. Only its host may end it. teardown, if set,
// runs under the session lock after the session is marked ended, so no queue
// or vote broadcast can follow it.
func (r *Registry) End(ctx context.Context, code, callerID string, teardown func(code string)) error {
	if _, err := r.AssertHost(ctx, code, callerID); err != nil {
		return err
	}
	code = NormalizeCode(code)

	unlock := r.locks.Lock(code)
	defer unlock()

	// re-read from the store; the cached copy has no primary key
	session, err := r.store.GetSession(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if !session.Active {
		return apperr.ErrSessionNotFound
	}
	session.Active = false
	if err := r.store.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Delete(ctx, session.Code); err != nil {
			logger.Warn("failed to evict session", logger.ErrorField(err), logger.String("session", session.Code))
		}
	}
	if teardown != nil {
		teardown(session.Code)
	}
	r.events.Emit(events.EventTypeSessionEnded, session.Code, callerID, events.SessionPayload{HostID: session.HostID, Name: session.Name})

	logger.Info("session ended", logger.String("session", session.Code))
	return nil
}

func (r *Registry) cacheSet(ctx context.Context, session *models.Session) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, session); err != nil {
		logger.Warn("failed to cache session", logger.ErrorField(err), logger.String("session", session.Code))
	}
}

// NormalizeCode makes codes case-insensitive for people typing them in.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
