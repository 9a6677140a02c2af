// Package prefs persists small per-user dashboard preferences, such as the
// last selected order filter, and announces changes to subscribers.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const maxValueLen = 4096

var (
	ErrNotFound      = errors.New("preference not found")
	ErrInvalidKey    = errors.New("invalid preference key")
	ErrValueTooLarge = errors.New("preference value too large")
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

type Change struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Subscribe registers fn for every change and returns a func that
	// removes it.
	Subscribe(fn func(Change)) (unsubscribe func())
}

// UserKey namespaces a preference name under a user.
func UserKey(userID, name string) (string, error) {
	if userID == "" || strings.Contains(userID, ":") {
		return "", fmt.Errorf("%w: user id %q", ErrInvalidKey, userID)
	}
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("%w: name %q", ErrInvalidKey, name)
	}
	return userID + ":" + name, nil
}

func SplitUserKey(key string) (userID, name string, ok bool) {
	userID, name, ok = strings.Cut(key, ":")
	if !ok || userID == "" || name == "" {
		return "", "", false
	}
	return userID, name, true
}

func validate(key, value string) error {
	if _, _, ok := SplitUserKey(key); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if len(value) > maxValueLen {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(value))
	}
	return nil
}

type subscribers struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(Change)
}

func (s *subscribers) add(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Change))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) notify(change Change) {
	s.mu.RLock()
	fns := make([]func(Change), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}
