package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fitcore/svc/billing/gateway"
	"github.com/dmitrymomot/fitcore/svc/billing/plan"
)

// MemoryStore is an in-memory Store for tests. It mirrors the Mongo
// implementation's semantics, including the monotonicity guard and
// partial upsert behavior.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]User
	subscriptions map[string]Subscription // keyed by providerSubscriptionId
	purchases     map[string]Purchase
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]User),
		subscriptions: make(map[string]Subscription),
		purchases:     make(map[string]Purchase),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return User{}, ErrEmailTaken
		}
	}
	if u.Subscription.Status == "" {
		u.Subscription = FreeProjection()
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) UserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (s *MemoryStore) UserByCustomerID(_ context.Context, customerID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ProviderCustomerID == customerID {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (s *MemoryStore) SetProviderCustomer(_ context.Context, userID, customerID string, env gateway.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.ProviderCustomerID = customerID
	u.BillingEnvironment = env
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) SetCheckoutSession(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.CheckoutSessionID = sessionID
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) AssignProgram(_ context.Context, userID, programID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	for _, p := range u.AssignedPrograms {
		if p == programID {
			return nil
		}
	}
	u.AssignedPrograms = append(u.AssignedPrograms, programID)
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) UpsertSubscription(_ context.Context, providerSubscriptionID string, f SubscriptionFields) (Subscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sub, exists := s.subscriptions[providerSubscriptionID]

	if exists && f.LastWebhookEventAt != nil && sub.LastWebhookEventAt != nil &&
		sub.LastWebhookEventAt.After(*f.LastWebhookEventAt) {
		return sub, false, nil
	}

	if !exists {
		sub = Subscription{
			ID:                     uuid.NewString(),
			ProviderSubscriptionID: providerSubscriptionID,
			CreatedAt:              now,
		}
	}

	if f.UserID != "" {
		sub.UserID = f.UserID
	}
	if f.ProviderCustomerID != "" {
		sub.ProviderCustomerID = f.ProviderCustomerID
	}
	if f.Plan != "" {
		sub.Plan = f.Plan
	}
	if f.ProviderPriceID != "" {
		sub.ProviderPriceID = f.ProviderPriceID
	}
	if f.Status != "" {
		sub.Status = f.Status
	}
	if f.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = f.CurrentPeriodStart
	}
	if f.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = f.CurrentPeriodEnd
	}
	if f.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *f.CancelAtPeriodEnd
	}
	if f.CanceledAt != nil {
		sub.CanceledAt = f.CanceledAt
	}
	if f.ClearCanceledAt {
		sub.CanceledAt = nil
	}
	if f.Amount != nil {
		sub.Amount = *f.Amount
	}
	if f.Currency != "" {
		sub.Currency = f.Currency
	}
	if f.BillingEnvironment != "" {
		sub.BillingEnvironment = f.BillingEnvironment
	}
	if f.LastWebhookEventAt != nil {
		sub.LastWebhookEventAt = f.LastWebhookEventAt
	}
	if f.CheckoutSessionID != "" {
		sub.CheckoutSessionID = f.CheckoutSessionID
	}
	if f.AppendInvoice != nil {
		sub.Invoices = append(sub.Invoices, *f.AppendInvoice)
	}
	sub.UpdatedAt = now

	s.subscriptions[providerSubscriptionID] = sub
	return sub, !exists, nil
}

func (s *MemoryStore) SubscriptionByProviderID(_ context.Context, providerSubscriptionID string) (Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[providerSubscriptionID]
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *MemoryStore) SetSubscriptionStatus(_ context.Context, providerSubscriptionID string, status Status, canceledAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[providerSubscriptionID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.Status = status
	if canceledAt != nil {
		sub.CanceledAt = canceledAt
	}
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[providerSubscriptionID] = sub
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) TransitionProjection(_ context.Context, userID string, next Projection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if next.LastWebhookEventAt != nil && u.Subscription.LastWebhookEventAt != nil &&
		u.Subscription.LastWebhookEventAt.After(*next.LastWebhookEventAt) {
		return ErrStaleEvent
	}
	if next.LastWebhookEventAt == nil {
		next.LastWebhookEventAt = u.Subscription.LastWebhookEventAt
	}
	u.Subscription = next
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) SetProjectionStatus(_ context.Context, userID string, status Status, clearIdentifiers bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Subscription.IsActive = false
	u.Subscription.Status = status
	if clearIdentifiers {
		u.Subscription.Plan = plan.Free
		u.Subscription.CancelAtPeriodEnd = false
		u.Subscription.ProviderSubscriptionID = ""
		u.Subscription.ProviderPriceID = ""
		u.Subscription.CurrentPeriodStart = nil
		u.Subscription.CurrentPeriodEnd = nil
	}
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) FindExpired(ctx context.Context, now time.Time, yield func(User) error) error {
	for _, u := range s.snapshotUsers() {
		if u.Subscription.Status != StatusActive {
			continue
		}
		if u.Subscription.CurrentPeriodEnd == nil || !u.Subscription.CurrentPeriodEnd.Before(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := yield(u); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) FindLongPastDue(ctx context.Context, cutoff time.Time, yield func(User) error) error {
	for _, u := range s.snapshotUsers() {
		if u.Subscription.Status != StatusPastDue || !u.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := yield(u); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) snapshotUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) DeleteCanceledBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, sub := range s.subscriptions {
		if sub.Status == StatusCanceled && sub.CanceledAt != nil && sub.CanceledAt.Before(cutoff) {
			delete(s.subscriptions, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) CreatePurchase(_ context.Context, p Purchase) (Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PurchasePending
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	s.purchases[p.ID] = p
	return p, nil
}

func (s *MemoryStore) CompletePurchaseBySession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.purchases {
		if p.CheckoutSessionID == sessionID {
			p.Status = PurchaseCompleted
			p.UpdatedAt = time.Now().UTC()
			s.purchases[id] = p
			return nil
		}
	}
	return ErrPurchaseNotFound
}
