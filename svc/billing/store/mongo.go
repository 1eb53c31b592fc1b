package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/fitcore/svc/billing/gateway"
	"github.com/dmitrymomot/fitcore/svc/billing/plan"
)

const (
	usersCollection         = "users"
	subscriptionsCollection = "subscriptions"
	purchasesCollection     = "purchases"
)

// MongoStore implements Store on a Mongo database.
type MongoStore struct {
	users         *mongo.Collection
	subscriptions *mongo.Collection
	purchases     *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		users:         db.Collection(usersCollection),
		subscriptions: db.Collection(subscriptionsCollection),
		purchases:     db.Collection(purchasesCollection),
	}
}

// EnsureIndexes creates the required indexes. Safe to call on every boot.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "providerCustomerId", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}

	_, err = s.subscriptions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "providerSubscriptionId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "userId", Value: 1},
				{Key: "status", Value: 1},
				{Key: "currentPeriodEnd", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "currentPeriodEnd", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create subscription indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateUser(ctx context.Context, u User) (User, error) {
	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Subscription.Status == "" {
		u.Subscription = FreeProjection()
	}
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return u, nil
}

func (s *MongoStore) UserByID(ctx context.Context, id string) (User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.findUser(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
}

func (s *MongoStore) UserByCustomerID(ctx context.Context, customerID string) (User, error) {
	return s.findUser(ctx, bson.M{"providerCustomerId": customerID})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (User, error) {
	var u User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (s *MongoStore) SetProviderCustomer(ctx context.Context, userID, customerID string, env gateway.Environment) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{
		"providerCustomerId": customerID,
		"billingEnvironment": env,
		"updatedAt":          time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *MongoStore) SetCheckoutSession(ctx context.Context, userID, sessionID string) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{
		"checkoutSessionId": sessionID,
		"updatedAt":         time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *MongoStore) AssignProgram(ctx context.Context, userID, programID string) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$addToSet": bson.M{"assignedPrograms": programID},
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpsertSubscription inserts or updates the row keyed on the unique
// provider subscription id, mutating only the columns present in f. Writes
// carrying an event timestamp older than the stored watermark are dropped
// and the current row returned unchanged.
func (s *MongoStore) UpsertSubscription(ctx context.Context, providerSubscriptionID string, f SubscriptionFields) (Subscription, bool, error) {
	now := time.Now().UTC()

	filter := bson.M{"providerSubscriptionId": providerSubscriptionID}
	if f.LastWebhookEventAt != nil {
		filter["$or"] = bson.A{
			bson.M{"lastWebhookEventAt": bson.M{"$exists": false}},
			bson.M{"lastWebhookEventAt": nil},
			bson.M{"lastWebhookEventAt": bson.M{"$lte": *f.LastWebhookEventAt}},
		}
	}

	set := bson.M{"updatedAt": now}
	if f.UserID != "" {
		set["userId"] = f.UserID
	}
	if f.ProviderCustomerID != "" {
		set["providerCustomerId"] = f.ProviderCustomerID
	}
	if f.Plan != "" {
		set["plan"] = f.Plan
	}
	if f.ProviderPriceID != "" {
		set["providerPriceId"] = f.ProviderPriceID
	}
	if f.Status != "" {
		set["status"] = f.Status
	}
	if f.CurrentPeriodStart != nil {
		set["currentPeriodStart"] = *f.CurrentPeriodStart
	}
	if f.CurrentPeriodEnd != nil {
		set["currentPeriodEnd"] = *f.CurrentPeriodEnd
	}
	if f.CancelAtPeriodEnd != nil {
		set["cancelAtPeriodEnd"] = *f.CancelAtPeriodEnd
	}
	if f.CanceledAt != nil {
		set["canceledAt"] = *f.CanceledAt
	}
	if f.Amount != nil {
		set["amount"] = *f.Amount
	}
	if f.Currency != "" {
		set["currency"] = f.Currency
	}
	if f.BillingEnvironment != "" {
		set["billingEnvironment"] = f.BillingEnvironment
	}
	if f.LastWebhookEventAt != nil {
		set["lastWebhookEventAt"] = *f.LastWebhookEventAt
	}
	if f.CheckoutSessionID != "" {
		set["checkoutSessionId"] = f.CheckoutSessionID
	}

	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"_id":                    uuid.NewString(),
			"providerSubscriptionId": providerSubscriptionID,
			"createdAt":              now,
		},
	}
	if f.ClearCanceledAt {
		delete(set, "canceledAt")
		update["$unset"] = bson.M{"canceledAt": ""}
	}
	if f.AppendInvoice != nil {
		update["$push"] = bson.M{"invoices": *f.AppendInvoice}
	}

	res, err := s.subscriptions.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		// The timestamp filter excluded the existing row, so the upsert
		// tried to insert a duplicate. The write is stale; keep stored state.
		if mongo.IsDuplicateKeyError(err) {
			current, gerr := s.SubscriptionByProviderID(ctx, providerSubscriptionID)
			return current, false, gerr
		}
		return Subscription{}, false, err
	}

	row, err := s.SubscriptionByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		return Subscription{}, false, err
	}
	return row, res.UpsertedCount > 0, nil
}

func (s *MongoStore) SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (Subscription, error) {
	var sub Subscription
	err := s.subscriptions.FindOne(ctx, bson.M{"providerSubscriptionId": providerSubscriptionID}).Decode(&sub)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Subscription{}, ErrSubscriptionNotFound
		}
		return Subscription{}, err
	}
	return sub, nil
}

func (s *MongoStore) SetSubscriptionStatus(ctx context.Context, providerSubscriptionID string, status Status, canceledAt *time.Time) error {
	set := bson.M{"status": status, "updatedAt": time.Now().UTC()}
	if canceledAt != nil {
		set["canceledAt"] = *canceledAt
	}
	res, err := s.subscriptions.UpdateOne(ctx, bson.M{"providerSubscriptionId": providerSubscriptionID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *MongoStore) ListByUser(ctx context.Context, userID string) ([]Subscription, error) {
	cur, err := s.subscriptions.Find(ctx, bson.M{"userId": userID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Subscription
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TransitionProjection writes the user's projection in one atomic update.
// Writes carrying an event timestamp are rejected with ErrStaleEvent when
// the stored watermark is newer; writes without one keep the stored
// watermark intact.
func (s *MongoStore) TransitionProjection(ctx context.Context, userID string, next Projection) error {
	now := time.Now().UTC()

	filter := bson.M{"_id": userID}
	if next.LastWebhookEventAt != nil {
		filter["$or"] = bson.A{
			bson.M{"subscription.lastWebhookEventAt": bson.M{"$exists": false}},
			bson.M{"subscription.lastWebhookEventAt": nil},
			bson.M{"subscription.lastWebhookEventAt": bson.M{"$lte": *next.LastWebhookEventAt}},
		}
	}

	set := bson.M{
		"subscription.isActive":               next.IsActive,
		"subscription.plan":                   next.Plan,
		"subscription.providerPriceId":        next.ProviderPriceID,
		"subscription.providerSubscriptionId": next.ProviderSubscriptionID,
		"subscription.currentPeriodStart":     next.CurrentPeriodStart,
		"subscription.currentPeriodEnd":       next.CurrentPeriodEnd,
		"subscription.cancelAtPeriodEnd":      next.CancelAtPeriodEnd,
		"subscription.subscriptionStatus":     next.Status,
		"updatedAt":                           now,
	}
	if next.LastWebhookEventAt != nil {
		set["subscription.lastWebhookEventAt"] = *next.LastWebhookEventAt
	}

	res, err := s.users.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, ferr := s.UserByID(ctx, userID); ferr != nil {
			return ferr
		}
		return ErrStaleEvent
	}
	return nil
}

// SetProjectionStatus is the sweep write path: flips the projection to an
// inactive status without touching the event watermark.
func (s *MongoStore) SetProjectionStatus(ctx context.Context, userID string, status Status, clearIdentifiers bool) error {
	update := bson.M{"$set": bson.M{
		"subscription.isActive":           false,
		"subscription.subscriptionStatus": status,
		"updatedAt":                       time.Now().UTC(),
	}}
	if clearIdentifiers {
		update["$set"].(bson.M)["subscription.plan"] = plan.Free
		update["$set"].(bson.M)["subscription.cancelAtPeriodEnd"] = false
		update["$unset"] = bson.M{
			"subscription.providerSubscriptionId": "",
			"subscription.providerPriceId":        "",
			"subscription.currentPeriodStart":     "",
			"subscription.currentPeriodEnd":       "",
		}
	}

	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// FindExpired streams users whose active subscription period has ended.
// The cursor is walked one document at a time so sweeps never hold the
// full result set.
func (s *MongoStore) FindExpired(ctx context.Context, now time.Time, yield func(User) error) error {
	filter := bson.M{
		"subscription.subscriptionStatus": StatusActive,
		"subscription.currentPeriodEnd":   bson.M{"$lt": now},
	}
	return s.streamUsers(ctx, filter, yield)
}

// FindLongPastDue streams users stuck in past_due whose last update is
// older than the cutoff.
func (s *MongoStore) FindLongPastDue(ctx context.Context, cutoff time.Time, yield func(User) error) error {
	filter := bson.M{
		"subscription.subscriptionStatus": StatusPastDue,
		"updatedAt":                       bson.M{"$lt": cutoff},
	}
	return s.streamUsers(ctx, filter, yield)
}

func (s *MongoStore) streamUsers(ctx context.Context, filter bson.M, yield func(User) error) error {
	cur, err := s.users.Find(ctx, filter)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var u User
		if err := cur.Decode(&u); err != nil {
			return err
		}
		if err := yield(u); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (s *MongoStore) DeleteCanceledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.subscriptions.DeleteMany(ctx, bson.M{
		"status":     StatusCanceled,
		"canceledAt": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) CreatePurchase(ctx context.Context, p Purchase) (Purchase, error) {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PurchasePending
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	if _, err := s.purchases.InsertOne(ctx, p); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

func (s *MongoStore) CompletePurchaseBySession(ctx context.Context, sessionID string) error {
	res, err := s.purchases.UpdateOne(ctx,
		bson.M{"checkoutSessionId": sessionID},
		bson.M{"$set": bson.M{"status": PurchaseCompleted, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}
