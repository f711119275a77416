package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/GramHealth/config"
	"github.com/room4-2/GramHealth/consult"
)

// ErrTooManySessions is returned when MaxSessions connections are open.
var ErrTooManySessions = errors.New("maximum sessions reached")

const (
	activeSessionsKey = "active_sessions"
	redisOpTimeout    = 2 * time.Second
)

func sessionKey(id string) string {
	return "session:" + id
}

// Manager manages all client sessions
type Manager struct {
	sessions   map[string]*ClientSession
	mu         sync.RWMutex
	redis      *redis.Client
	config     *config.Config
	advisor    consult.Advisor
	consultCfg consult.Config
	sinks      []consult.EventSink
	logger     zerolog.Logger
}

// NewManager creates a session manager. redisClient may be nil, in which case
// sessions are only tracked in memory.
func NewManager(cfg *config.Config, redisClient *redis.Client, advisor consult.Advisor, consultCfg consult.Config, sinks ...consult.EventSink) *Manager {
	return &Manager{
		sessions:   make(map[string]*ClientSession),
		redis:      redisClient,
		config:     cfg,
		advisor:    advisor,
		consultCfg: consultCfg,
		sinks:      sinks,
		logger:     log.With().Str("component", "manager").Logger(),
	}
}

// CreateSession creates a new client session
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, ErrTooManySessions
	}

	sessionID := uuid.New().String()
	sinks := append([]consult.EventSink{&registrySink{manager: sm, clientID: sessionID}}, sm.sinks...)
	session := NewClientSession(sessionID, clientConn, Options{
		Advisor:   sm.advisor,
		Consult:   sm.consultCfg,
		Sinks:     sinks,
		KeepAlive: sm.config.KeepAlivePeriod,
	})

	sm.storeSession(ctx, sessionID, session)
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, sessionID string, session *ClientSession) {
	sm.sessions[sessionID] = session

	if sm.redis != nil {
		pipe := sm.redis.TxPipeline()
		pipe.HSet(ctx, sessionKey(sessionID), map[string]interface{}{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActivity.Format(time.RFC3339),
			"status":        "open",
		})
		pipe.SAdd(ctx, activeSessionsKey, sessionID)
		pipe.Expire(ctx, sessionKey(sessionID), sm.config.SessionTimeout)
		if _, err := pipe.Exec(ctx); err != nil {
			sm.logger.Warn().Err(err).Str("client_id", sessionID).Msg("failed to mirror session to redis")
		}
	}
}

// updateSession refreshes the Redis mirror of a session. It runs detached
// from the caller because consultation events fire under a lock.
func (sm *Manager) updateSession(sessionID string, fields map[string]interface{}) {
	if sm.redis == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
		defer cancel()
		fields["last_activity"] = time.Now().Format(time.RFC3339)
		pipe := sm.redis.TxPipeline()
		pipe.HSet(ctx, sessionKey(sessionID), fields)
		pipe.Expire(ctx, sessionKey(sessionID), sm.config.SessionTimeout)
		if _, err := pipe.Exec(ctx); err != nil {
			sm.logger.Debug().Err(err).Str("client_id", sessionID).Msg("failed to update session in redis")
		}
	}()
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	session, exists := sm.sessions[sessionID]
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	if !exists {
		return nil
	}
	session.Close()
	return sm.forget(ctx, sessionID)
}

func (sm *Manager) forget(ctx context.Context, sessionID string) error {
	if sm.redis == nil {
		return nil
	}
	pipe := sm.redis.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.SRem(ctx, activeSessionsKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to remove session from redis")
	}
	return nil
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions that have been inactive
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	now := time.Now()

	sm.mu.Lock()
	var stale []*ClientSession
	for id, session := range sm.sessions {
		if session.Idle(now) > sm.config.SessionTimeout {
			stale = append(stale, session)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	for _, session := range stale {
		sm.logger.Info().Str("client_id", session.ID).Msg("closing inactive session")
		session.Close()
		if err := sm.forget(ctx, session.ID); err != nil {
			sm.logger.Warn().Err(err).Str("client_id", session.ID).Msg("cleanup failed")
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) error {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*ClientSession)
	sm.mu.Unlock()

	for id, session := range sessions {
		session.Close()
		if err := sm.forget(ctx, id); err != nil {
			sm.logger.Warn().Err(err).Str("client_id", id).Msg("shutdown cleanup failed")
		}
	}
}

// registrySink mirrors consultation status changes into Redis.
type registrySink struct {
	consult.NopEvents
	manager  *Manager
	clientID string
}

func (r *registrySink) StatusChanged(sessionID string, status consult.Status) {
	fields := map[string]interface{}{
		"consultation_id": sessionID,
		"status":          string(status),
	}
	if session, ok := r.manager.GetSession(r.clientID); ok {
		fields["modality"] = string(session.Modality())
	}
	r.manager.updateSession(r.clientID, fields)
}
