package service

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"tokengate/api/internal/models"
	"tokengate/api/internal/repository"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]models.User)}
}

func (f *fakeUserStore) Create(_ context.Context, user models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserStore) FindByEmail(_ context.Context, tenantID string, email string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.TenantID == tenantID && user.Email == email {
			return user, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (f *fakeUserStore) GetByID(_ context.Context, userID string, tenantID string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok || user.TenantID != tenantID {
		return models.User{}, repository.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeUserStore) SetRevocationCutoff(_ context.Context, userID string, tenantID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok || user.TenantID != tenantID {
		return repository.ErrUserNotFound
	}
	user.TokensRevokedBefore = &at
	f.users[userID] = user
	return nil
}

func (f *fakeUserStore) setStatus(userID string, status models.UserStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.Status = status
	f.users[userID] = user
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]models.Session)}
}

func (f *fakeSessionStore) Create(_ context.Context, session models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeSessionStore) GetByRefreshHash(_ context.Context, refreshHash []byte) (models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if bytes.Equal(session.RefreshTokenHash, refreshHash) {
			return session, nil
		}
	}
	return models.Session{}, repository.ErrSessionNotFound
}

func (f *fakeSessionStore) Replace(_ context.Context, oldID string, next models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[oldID]; !ok {
		return repository.ErrSessionNotFound
	}
	delete(f.sessions, oldID)
	f.sessions[next.ID] = next
	return nil
}

func (f *fakeSessionStore) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return repository.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessionStore) DeleteScoped(_ context.Context, id string, userID string, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok || session.UserID != userID || session.TenantID != tenantID {
		return repository.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessionStore) DeleteOthers(_ context.Context, userID string, tenantID string, keepRefreshHash []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, session := range f.sessions {
		if session.UserID == userID && session.TenantID == tenantID && !bytes.Equal(session.RefreshTokenHash, keepRefreshHash) {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionStore) DeleteAllForUser(_ context.Context, userID string, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, session := range f.sessions {
		if session.UserID == userID && session.TenantID == tenantID {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionStore) ListByUser(_ context.Context, userID string, tenantID string, now time.Time) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []models.Session
	for _, session := range f.sessions {
		if session.UserID == userID && session.TenantID == tenantID && session.ExpiresAt.After(now) {
			result = append(result, session)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastUsedAt.After(result[j].LastUsedAt)
	})
	return result, nil
}

func (f *fakeSessionStore) CountByUser(_ context.Context, userID string, tenantID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, session := range f.sessions {
		if session.UserID == userID && session.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

func (f *fakeSessionStore) DeleteOldestSessions(_ context.Context, userID string, tenantID string, keepLatest int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var owned []models.Session
	for _, session := range f.sessions {
		if session.UserID == userID && session.TenantID == tenantID {
			owned = append(owned, session)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].LastUsedAt.After(owned[j].LastUsedAt)
	})
	for i := keepLatest; i < len(owned); i++ {
		delete(f.sessions, owned[i].ID)
	}
	return nil
}

func (f *fakeSessionStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type fakeChallengeStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeChallengeStore() *fakeChallengeStore {
	return &fakeChallengeStore{values: make(map[string]string)}
}

func (f *fakeChallengeStore) Put(_ context.Context, id string, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[id] = value
	return nil
}

func (f *fakeChallengeStore) Take(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[id]
	if !ok {
		return "", repository.ErrSessionNotFound
	}
	delete(f.values, id)
	return value, nil
}

type fakeOTPVerifier struct {
	accept string
}

func (f fakeOTPVerifier) Verify(_ string, code string) bool {
	return f.accept != "" && code == f.accept
}
