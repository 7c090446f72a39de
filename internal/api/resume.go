package api

import (
	"crypto/subtle"
	"sync"

	"github.com/google/uuid"
)

// resumeKeys holds the secret each session must present to reattach after a disconnect.
// Session ids are visible to every participant; the key is only ever sent to its owner.
type resumeKeys struct {
	mu   sync.Mutex
	keys map[string]string
}

func newResumeKeys() *resumeKeys {
	return &resumeKeys{keys: map[string]string{}}
}

// issue replaces the key for id, invalidating any earlier one.
func (k *resumeKeys) issue(id string) string {
	key := uuid.NewString()
	k.mu.Lock()
	k.keys[id] = key
	k.mu.Unlock()
	return key
}

func (k *resumeKeys) check(id, key string) bool {
	if key == "" {
		return false
	}
	k.mu.Lock()
	want, ok := k.keys[id]
	k.mu.Unlock()
	return ok && subtle.ConstantTimeCompare([]byte(want), []byte(key)) == 1
}
