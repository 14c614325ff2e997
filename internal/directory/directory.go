// Package directory reads staff users from the host application's user
// directory. It never writes.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/eldtechnologies/staffchat/internal/models"
)

// Directory resolves chat-eligible users. Users whose role is not
// chat-eligible are treated as absent.
type Directory interface {
	// Lookup returns the users found among ids, keyed by id. Unknown ids are
	// omitted rather than reported as errors.
	Lookup(ctx context.Context, ids []string) (map[string]models.User, error)
	// List returns every chat-eligible user.
	List(ctx context.Context) ([]models.User, error)
}

// Static is an in-memory directory, loaded from a JSON file in development.
type Static struct {
	mu    sync.RWMutex
	users map[string]models.User
}

// NewStatic builds a directory from users. Ineligible roles are dropped.
func NewStatic(users []models.User) *Static {
	s := &Static{}
	s.Replace(users)
	return s
}

// LoadStatic reads a JSON array of users from path.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	var users []models.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse directory file: %w", err)
	}
	return NewStatic(users), nil
}

// Replace swaps the directory contents.
func (s *Static) Replace(users []models.User) {
	m := make(map[string]models.User, len(users))
	for _, u := range users {
		if u.ID == "" || !u.Role.ChatEligible() {
			continue
		}
		m[u.ID] = u
	}
	s.mu.Lock()
	s.users = m
	s.mu.Unlock()
}

// Lookup implements Directory.
func (s *Static) Lookup(_ context.Context, ids []string) (map[string]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

// List implements Directory. Users are returned in id order.
func (s *Static) List(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns a single user, or nil if the id is unknown.
func Get(ctx context.Context, d Directory, id string) (*models.User, error) {
	found, err := d.Lookup(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	u, ok := found[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}
