// Package memory implementa repository.Store en memoria para desarrollo y tests.
package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/authority/internal/domain/repository"
)

type providerKey struct{ provider, subject string }

// Store es seguro para uso concurrente.
type Store struct {
	mu         sync.RWMutex
	users      map[string]repository.User
	byProvider map[providerKey]string
	profiles   map[string]repository.Profile
	roles      map[string]repository.Role
	userRoles  map[string]map[string]bool
	mfa        map[string]repository.MFARecord
	now        func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New crea un store vacío sembrado con repository.DefaultRoles().
func New() *Store {
	s := &Store{
		users:      map[string]repository.User{},
		byProvider: map[providerKey]string{},
		profiles:   map[string]repository.Profile{},
		roles:      map[string]repository.Role{},
		userRoles:  map[string]map[string]bool{},
		mfa:        map[string]repository.MFARecord{},
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, r := range repository.DefaultRoles() {
		r.ID = uuid.NewString()
		s.roles[r.Name] = r
	}
	return s
}

// PutRole crea o reemplaza un rol (tests).
func (s *Store) PutRole(r repository.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.roles[strings.ToLower(r.Name)] = r
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// ─── Users ───

func (s *Store) GetByProvider(ctx context.Context, provider, providerUserID string) (*repository.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byProvider[providerKey{provider, providerUserID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) GetByID(ctx context.Context, userID string) (*repository.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (s *Store) CreateWithProfile(ctx context.Context, in repository.CreateUserInput) (*repository.User, *repository.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := providerKey{in.Provider, in.ProviderUserID}
	if _, exists := s.byProvider[k]; exists {
		return nil, nil, repository.ErrConflict
	}
	tier := in.Tier
	if tier == "" {
		tier = repository.TierFree
	}
	now := s.now()
	u := repository.User{
		ID:             uuid.NewString(),
		Email:          in.Email,
		Provider:       in.Provider,
		ProviderUserID: in.ProviderUserID,
		OrganizationID: in.OrganizationID,
		Tier:           tier,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	p := repository.Profile{
		UserID:      u.ID,
		DisplayName: in.DisplayName,
		AvatarURL:   in.AvatarURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.users[u.ID] = u
	s.byProvider[k] = u.ID
	s.profiles[u.ID] = p
	return &u, &p, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*repository.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *Store) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastActiveAt = &at
	s.users[userID] = u
	return nil
}

func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.Active = active
	u.UpdatedAt = s.now()
	s.users[userID] = u
	return nil
}

// ─── RBAC ───

func (s *Store) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.userRoles[userID]))
	for name := range s.userRoles[userID] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) GetUserPermissions(ctx context.Context, userID string) ([]repository.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[repository.Permission]bool{}
	var out []repository.Permission
	for name := range s.userRoles[userID] {
		for _, p := range s.roles[name].Permissions {
			v, err := repository.ParsePermission(string(p.Resource), string(p.Action))
			if err != nil || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *Store) AssignRole(ctx context.Context, userID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := strings.ToLower(roleName)
	if _, ok := s.roles[name]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return repository.ErrNotFound
	}
	if s.userRoles[userID] == nil {
		s.userRoles[userID] = map[string]bool{}
	}
	s.userRoles[userID][name] = true
	return nil
}

func (s *Store) RemoveRole(ctx context.Context, userID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userRoles[userID], strings.ToLower(roleName))
	return nil
}

func (s *Store) ListRoles(ctx context.Context) ([]repository.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]repository.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ─── MFA ───

func (s *Store) GetMFA(ctx context.Context, userID string) (*repository.MFARecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mfa[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	m.SecretSealed = bytes.Clone(m.SecretSealed)
	m.BackupCodesSealed = bytes.Clone(m.BackupCodesSealed)
	return &m, nil
}

func (s *Store) PutMFA(ctx context.Context, rec repository.MFARecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if prev, ok := s.mfa[rec.UserID]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.LastUsedAt = nil
	rec.SecretSealed = bytes.Clone(rec.SecretSealed)
	rec.BackupCodesSealed = bytes.Clone(rec.BackupCodesSealed)
	s.mfa[rec.UserID] = rec
	return nil
}

func (s *Store) SetMFAEnabled(ctx context.Context, userID string, enabled bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mfa[userID]
	if !ok {
		return repository.ErrNotFound
	}
	m.Enabled = enabled
	if enabled {
		m.ConfirmedAt = &at
	}
	m.UpdatedAt = at
	s.mfa[userID] = m
	return nil
}

func (s *Store) SwapBackupCodes(ctx context.Context, userID string, prev, next []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mfa[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if !bytes.Equal(m.BackupCodesSealed, prev) {
		return repository.ErrStaleWrite
	}
	m.BackupCodesSealed = bytes.Clone(next)
	m.UpdatedAt = s.now()
	s.mfa[userID] = m
	return nil
}

func (s *Store) TouchMFALastUsed(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mfa[userID]
	if !ok {
		return repository.ErrNotFound
	}
	m.LastUsedAt = &at
	s.mfa[userID] = m
	return nil
}
