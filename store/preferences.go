package store

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultLanguage is returned for clients that never chose one.
const DefaultLanguage = "en"

// PreferenceStore keeps each client's display language. It uses Redis when
// a client is given and an in-process map otherwise.
type PreferenceStore struct {
	redis *redis.Client

	mu     sync.RWMutex
	memory map[string]string
}

func NewPreferenceStore(client *redis.Client) *PreferenceStore {
	return &PreferenceStore{redis: client, memory: make(map[string]string)}
}

func languageKey(clientID string) string {
	return "pref:" + clientID + ":language"
}

// Language returns the stored language of clientID, or DefaultLanguage.
func (p *PreferenceStore) Language(ctx context.Context, clientID string) (string, error) {
	if strings.TrimSpace(clientID) == "" {
		return "", errors.New("empty client id")
	}

	if p.redis == nil {
		p.mu.RLock()
		defer p.mu.RUnlock()
		if lang, ok := p.memory[clientID]; ok {
			return lang, nil
		}
		return DefaultLanguage, nil
	}

	lang, err := p.redis.Get(ctx, languageKey(clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return DefaultLanguage, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "preferences: get language")
	}
	return lang, nil
}

// SetLanguage stores language for clientID.
func (p *PreferenceStore) SetLanguage(ctx context.Context, clientID, language string) error {
	if strings.TrimSpace(clientID) == "" {
		return errors.New("empty client id")
	}
	if strings.TrimSpace(language) == "" {
		return errors.New("empty language")
	}

	if p.redis == nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.memory[clientID] = language
		return nil
	}

	if err := p.redis.Set(ctx, languageKey(clientID), language, 0).Err(); err != nil {
		return errors.Wrap(err, "preferences: set language")
	}
	return nil
}
