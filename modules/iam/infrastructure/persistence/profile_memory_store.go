package persistence

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jacksonlee411/loanportal/modules/iam/domain/ports"
	"github.com/jacksonlee411/loanportal/modules/iam/domain/types"
)

type ProfileMemoryStore struct {
	mu       sync.Mutex
	profiles map[string]types.Profile
	now      func() time.Time
}

func NewProfileMemoryStore(seed ...types.Profile) *ProfileMemoryStore {
	s := &ProfileMemoryStore{
		profiles: make(map[string]types.Profile, len(seed)),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, p := range seed {
		s.profiles[p.ID] = p
	}
	return s
}

var _ ports.ProfileAdminStore = (*ProfileMemoryStore)(nil)

func (s *ProfileMemoryStore) GetProfile(_ context.Context, id string) (types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return types.Profile{}, ports.ErrProfileNotFound
	}
	return p, nil
}

func (s *ProfileMemoryStore) EnsureProfile(_ context.Context, p types.Profile) (types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.profiles[p.ID]; ok {
		return cur, nil
	}
	if p.Status == "" {
		p.Status = types.ProfileStatusActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.profiles[p.ID] = p
	return p, nil
}

func (s *ProfileMemoryStore) ListProfiles(_ context.Context, f types.ProfileFilter) ([]types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]types.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if f.Role != "" && p.Role != f.Role {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Email), q) && !strings.Contains(strings.ToLower(p.FullName), q) {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b types.Profile) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if f.Offset >= len(out) {
		return []types.Profile{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *ProfileMemoryStore) UpdateAccess(_ context.Context, id string, role string, status string) (types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return types.Profile{}, ports.ErrProfileNotFound
	}
	p.Role, p.Status = role, status
	s.profiles[id] = p
	return p, nil
}
