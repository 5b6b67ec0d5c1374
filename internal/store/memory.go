package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"asset-census-api/pkg/inventory"
)

// Memory is an in-process Store. It backs tests and runs without a database
// when DATABASE_URL is empty.
type Memory struct {
	mu        sync.Mutex
	session   *inventory.Session
	operators map[string]*Operator
	nextID    int64

	// FailCommit, when set, is returned by the next Commit instead of
	// writing.
	FailCommit error
	commits    int
}

// NewMemory returns a store seeded with a copy of s. A nil s starts empty.
func NewMemory(s *inventory.Session) *Memory {
	if s == nil {
		s = inventory.NewSession()
	}
	return &Memory{session: s.Clone(), operators: make(map[string]*Operator)}
}

// AddOperator registers an operator and returns its id.
func (m *Memory) AddOperator(op Operator) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	op.ID = m.nextID
	op.Email = strings.ToLower(strings.TrimSpace(op.Email))
	m.operators[op.Email] = &op
	return op.ID
}

func (m *Memory) Load(_ context.Context) (*inventory.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone(), nil
}

func (m *Memory) Commit(ctx context.Context, mut Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailCommit; err != nil {
		m.FailCommit = nil
		return err
	}

	s := m.session
	for _, a := range mut.PutAssets {
		s.Assets[a.Key] = a.Clone()
	}
	for _, k := range mut.DeleteAssets {
		delete(s.Assets, k)
	}
	for _, u := range mut.PutUsers {
		s.Users[u.Name] = u.Clone()
	}
	for _, n := range mut.DeleteUsers {
		delete(s.Users, n)
	}
	for _, a := range mut.PutAreas {
		area := *a
		s.Areas[a.ID] = &area
	}
	for _, id := range mut.DeleteAreas {
		delete(s.Areas, id)
	}
	if mut.Counter != nil {
		s.Counter = mut.Counter.Clone()
	}
	if mut.Inventory != nil {
		s.Inventory = *mut.Inventory
	}
	m.commits++
	return nil
}

// Commits returns the number of successful commits.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

func (m *Memory) Operator(_ context.Context, email string) (*Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operators[strings.ToLower(strings.TrimSpace(email))]
	if !ok || !op.Active {
		return nil, ErrOperatorNotFound
	}
	c := *op
	c.Roles = append([]string(nil), op.Roles...)
	return &c, nil
}

func (m *Memory) RecordLogin(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.operators {
		if op.ID == id {
			now := time.Now().UTC()
			op.LastLoginAt = &now
			return nil
		}
	}
	return ErrOperatorNotFound
}

func (m *Memory) Ping(_ context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
