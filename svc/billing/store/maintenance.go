package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/dmitrymomot/fitcore/svc/billing/plan"
)

// Maintenance repair operations used by the CLI. They live on MongoStore
// only; each takes an optional user filter and a dry-run switch that
// counts matches without writing.

// CountCanceledBefore reports how many canceled rows the retention sweep
// would delete.
func (s *MongoStore) CountCanceledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.subscriptions.CountDocuments(ctx, bson.M{
		"status":     StatusCanceled,
		"canceledAt": bson.M{"$lt": cutoff},
	})
}

// FixActiveFlags clears isActive on projections whose status no longer
// grants access. Returns how many documents matched (dry run) or were
// modified.
func (s *MongoStore) FixActiveFlags(ctx context.Context, userID string, dryRun bool) (int64, error) {
	filter := bson.M{
		"subscription.isActive": true,
		"subscription.subscriptionStatus": bson.M{
			"$nin": bson.A{StatusActive, StatusTrialing},
		},
	}
	if userID != "" {
		filter["_id"] = userID
	}

	if dryRun {
		return s.users.CountDocuments(ctx, filter)
	}
	res, err := s.users.UpdateMany(ctx, filter, bson.M{"$set": bson.M{
		"subscription.isActive": false,
		"updatedAt":             time.Now().UTC(),
	}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// FixPeriodEnds removes stale period fields from projections in terminal
// or free states.
func (s *MongoStore) FixPeriodEnds(ctx context.Context, userID string, dryRun bool) (int64, error) {
	filter := bson.M{
		"subscription.subscriptionStatus": bson.M{
			"$in": bson.A{StatusCanceled, StatusExpired, StatusFree},
		},
		"subscription.currentPeriodEnd": bson.M{"$exists": true},
	}
	if userID != "" {
		filter["_id"] = userID
	}

	if dryRun {
		return s.users.CountDocuments(ctx, filter)
	}
	res, err := s.users.UpdateMany(ctx, filter, bson.M{
		"$unset": bson.M{
			"subscription.currentPeriodStart": "",
			"subscription.currentPeriodEnd":   "",
		},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// BackfillStatuses gives users without a projection status the free
// projection so the status tag set stays closed.
func (s *MongoStore) BackfillStatuses(ctx context.Context, userID string, dryRun bool) (int64, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"subscription.subscriptionStatus": bson.M{"$exists": false}},
		bson.M{"subscription.subscriptionStatus": ""},
	}}
	if userID != "" {
		filter["_id"] = userID
	}

	if dryRun {
		return s.users.CountDocuments(ctx, filter)
	}
	res, err := s.users.UpdateMany(ctx, filter, bson.M{"$set": bson.M{
		"subscription.subscriptionStatus": StatusFree,
		"subscription.isActive":           false,
		"subscription.plan":               plan.Free,
		"updatedAt":                       time.Now().UTC(),
	}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
