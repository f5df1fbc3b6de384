package otp

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-otp-bridge/internal/application/dispatch"
	"github.com/go-otp-bridge/internal/domain"
	"github.com/stretchr/testify/mock"
)

// --- session store ---

// memStore is an in-memory SessionStore with the same conditional semantics
// as the DynamoDB repo.
type memStore struct {
	mu   sync.Mutex
	rows map[string]domain.VerificationSession
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]domain.VerificationSession{}}
}

func (m *memStore) Replace(_ context.Context, s *domain.VerificationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tok, row := range m.rows {
		if row.Email == s.Email && !row.IsUsed {
			delete(m.rows, tok)
		}
	}
	m.rows[s.SessionToken] = *s
	return nil
}

func (m *memStore) Get(_ context.Context, tok string) (*domain.VerificationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[tok]
	if !ok {
		return nil, fmt.Errorf("verification session: %w", domain.ErrSessionNotFound)
	}
	return &row, nil
}

func (m *memStore) IncrementAttempts(_ context.Context, tok string, maxAttempts int) (*domain.VerificationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[tok]
	switch {
	case !ok:
		return nil, domain.ErrSessionNotFound
	case row.IsUsed:
		return nil, domain.ErrSessionAlreadyUsed
	case row.Attempts >= maxAttempts:
		return nil, domain.ErrTooManyAttempts
	}
	row.Attempts++
	m.rows[tok] = row
	return &row, nil
}

func (m *memStore) MarkVerified(_ context.Context, tok string) error {
	return m.setFlags(tok, false)
}

func (m *memStore) Consume(_ context.Context, tok string) error {
	return m.setFlags(tok, true)
}

func (m *memStore) setFlags(tok string, used bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[tok]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if row.IsUsed {
		return domain.ErrSessionAlreadyUsed
	}
	row.IsVerified = true
	row.IsUsed = used
	m.rows[tok] = row
	return nil
}

func (m *memStore) Delete(_ context.Context, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, tok)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memStore) row(tok string) (domain.VerificationSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[tok]
	return row, ok
}

// --- registry ---

type memRegistry struct {
	identities []domain.MessagingIdentity
}

func (r *memRegistry) GetByChatHandle(_ context.Context, handle string) (*domain.MessagingIdentity, error) {
	for i := range r.identities {
		if r.identities[i].ChatHandle == handle {
			m := r.identities[i]
			return &m, nil
		}
	}
	return nil, domain.ErrMessagingIdentityNotFound
}

func (r *memRegistry) FindActiveByPhoneCandidates(_ context.Context, candidates []string) (*domain.MessagingIdentity, error) {
	var best *domain.MessagingIdentity
	for i := range r.identities {
		m := r.identities[i]
		if !m.IsActive || !contains(candidates, m.PhoneNumber) {
			continue
		}
		if best == nil || m.UpdatedAt.After(best.UpdatedAt) {
			best = &m
		}
	}
	if best == nil {
		return nil, domain.ErrMessagingIdentityNotFound
	}
	return best, nil
}

// --- directory ---

type memDirectory struct {
	mu        sync.Mutex
	accounts  []domain.Account
	passwords map[string]string
	createErr error
}

func newMemDirectory(accounts ...domain.Account) *memDirectory {
	return &memDirectory{accounts: accounts, passwords: map[string]string{}}
}

func (d *memDirectory) find(match func(domain.Account) bool) (*domain.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range d.accounts {
		if match(a) {
			return &a, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (d *memDirectory) FindAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	return d.find(func(a domain.Account) bool { return a.Email == email })
}

func (d *memDirectory) FindAccountByPhoneCandidates(_ context.Context, candidates []string) (*domain.Account, error) {
	return d.find(func(a domain.Account) bool { return a.PhoneNumber != "" && contains(candidates, a.PhoneNumber) })
}

func (d *memDirectory) FindAccountByMessagingHandle(_ context.Context, handle string) (*domain.Account, error) {
	return d.find(func(a domain.Account) bool { return a.MessagingHandle != "" && a.MessagingHandle == handle })
}

func (d *memDirectory) CreateAccount(_ context.Context, in domain.NewAccount) (*domain.Account, error) {
	if d.createErr != nil {
		return nil, d.createErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	a := domain.Account{
		UserID:          fmt.Sprintf("u%d", len(d.accounts)+1),
		Email:           in.Email,
		PhoneNumber:     in.PhoneNumber,
		MessagingHandle: in.MessagingHandle,
		DisplayName:     in.DisplayName,
	}
	d.accounts = append(d.accounts, a)
	d.passwords[a.UserID] = in.Password
	return &a, nil
}

func (d *memDirectory) UpdatePassword(_ context.Context, userID, pw string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.passwords[userID] = pw
	return nil
}

func (d *memDirectory) UpdateEmail(_ context.Context, userID, email string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.accounts {
		if d.accounts[i].UserID == userID {
			d.accounts[i].Email = email
			return nil
		}
	}
	return domain.ErrAccountNotFound
}

func (d *memDirectory) add(a domain.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts = append(d.accounts, a)
}

// --- dispatch ---

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

type sent struct {
	to  dispatch.Target
	msg string
}

// recorder is a Dispatcher that keeps every message. err, when set, is
// returned instead of delivering. block makes Send wait for ctx.
type recorder struct {
	mu    sync.Mutex
	sent  []sent
	err   error
	block bool
}

func (r *recorder) Send(ctx context.Context, to dispatch.Target, msg string) error {
	if r.block {
		<-ctx.Done()
		return fmt.Errorf("%w: %w", domain.ErrDispatchFailed, ctx.Err())
	}
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{to: to, msg: msg})
	return nil
}

func (r *recorder) last() sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

func (r *recorder) lastCode() string {
	return codePattern.FindString(r.last().msg)
}

// --- cooldown ---

type mockCooldown struct{ mock.Mock }

func (m *mockCooldown) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockCooldown) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

// memCooldown holds each key until the fixture clock passes its deadline.
type memCooldown struct {
	mu    sync.Mutex
	now   func() time.Time
	until map[string]time.Time
}

func newMemCooldown(now func() time.Time) *memCooldown {
	return &memCooldown{now: now, until: map[string]time.Time{}}
}

func (c *memCooldown) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if until, ok := c.until[key]; ok && now.Before(until) {
		return false, nil
	}
	c.until[key] = now.Add(ttl)
	return true, nil
}

func (c *memCooldown) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.until, key)
	return nil
}

// --- sms gateway ---

type mockSMSSender struct{ mock.Mock }

func (m *mockSMSSender) SendSMS(ctx context.Context, phoneDigits, text string) error {
	return m.Called(ctx, phoneDigits, text).Error(0)
}

// --- clock ---

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
