package memory

import (
	"context"
	"sync"
	"time"

	"timeline-rag-api/internal/domain/entity"
	apperrors "timeline-rag-api/pkg/errors"
)

// StatusStore 内存状态存储
type StatusStore struct {
	mu     sync.Mutex
	now    func() time.Time
	ttl    time.Duration
	values map[string]*entity.Status
}

// NewStatusStore 创建内存状态存储；ttl<=0 表示永不过期
func NewStatusStore(ttl time.Duration) *StatusStore {
	return &StatusStore{now: time.Now, ttl: ttl, values: make(map[string]*entity.Status)}
}

func (s *StatusStore) Report(_ context.Context, tenantID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[tenantID] = &entity.Status{TenantID: tenantID, Label: label, UpdatedAt: s.now()}
	return nil
}

func (s *StatusStore) Read(_ context.Context, tenantID string) (*entity.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.values[tenantID]
	if !ok {
		return nil, nil
	}
	if s.ttl > 0 && s.now().Sub(st.UpdatedAt) > s.ttl {
		delete(s.values, tenantID)
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *StatusStore) Clear(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, tenantID)
	return nil
}

// TenantLocker 进程内租户锁
type TenantLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewTenantLocker 创建进程内租户锁
func NewTenantLocker() *TenantLocker {
	return &TenantLocker{held: make(map[string]struct{})}
}

func (l *TenantLocker) Acquire(_ context.Context, tenantID string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[tenantID]; ok {
		return nil, apperrors.ErrIngestionBusy.WithDetail(tenantID)
	}
	l.held[tenantID] = struct{}{}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, tenantID)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
