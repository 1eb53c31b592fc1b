package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/fitcore/handler"
	"github.com/dmitrymomot/fitcore/pkg/logger"
	"github.com/dmitrymomot/fitcore/svc/billing/gateway"
)

const (
	dedupKeyPrefix = "billing:webhook:"
	maxPayloadSize = 1 << 20
)

// Config tunes webhook intake.
type Config struct {
	// RetentionTTL is how long an event id suppresses re-dispatch.
	RetentionTTL time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"72h"`
	// ProcessTimeout bounds dispatch so the provider acknowledgement
	// window is never exceeded.
	ProcessTimeout time.Duration `env:"WEBHOOK_PROCESS_TIMEOUT" envDefault:"15s"`
}

// Verifier checks a webhook signature over the raw payload.
type Verifier interface {
	VerifyWebhook(payload []byte, signature string) (gateway.Event, error)
}

// Applier consumes verified events.
type Applier interface {
	ApplyEvent(ctx context.Context, ev gateway.Event) error
}

// Intake is the webhook endpoint: verify, deduplicate on event id,
// dispatch. Events are acknowledged with 2xx even when processing fails
// after verification so the provider does not retry indefinitely.
type Intake struct {
	verifier Verifier
	applier  Applier
	redis    redis.UniversalClient
	log      *slog.Logger
	cfg      Config
}

func New(verifier Verifier, applier Applier, rdb redis.UniversalClient, log *slog.Logger, cfg Config) *Intake {
	if cfg.RetentionTTL <= 0 {
		cfg.RetentionTTL = 72 * time.Hour
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 15 * time.Second
	}
	return &Intake{verifier: verifier, applier: applier, redis: rdb, log: log, cfg: cfg}
}

func (i *Intake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize))
	if err != nil {
		handler.JSONError(w, handler.ErrBadRequest)
		return
	}

	ev, err := i.verifier.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		i.log.WarnContext(r.Context(), "webhook rejected",
			logger.Component("webhook_intake"),
			logger.Error(err))
		handler.JSONError(w, handler.NewHTTPError(http.StatusBadRequest, "bad_signature"))
		return
	}

	if i.seen(r.Context(), ev.ID) {
		i.log.InfoContext(r.Context(), "duplicate webhook acknowledged",
			logger.Component("webhook_intake"),
			logger.EventID(ev.ID))
		handler.JSONAck(w, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), i.cfg.ProcessTimeout)
	defer cancel()

	if err := i.applier.ApplyEvent(ctx, ev); err != nil {
		// Dead-letter entry for offline inspection; the provider still
		// gets an acknowledgement.
		i.log.ErrorContext(ctx, "webhook processing failed after verification",
			logger.Component("webhook_intake"),
			logger.EventID(ev.ID),
			slog.String("event_type", ev.Type),
			slog.String("dead_letter", "true"),
			logger.Error(err))
		handler.JSONAck(w, err)
		return
	}
	handler.JSONAck(w, nil)
}

// seen marks the event id and reports whether it was already recorded
// within the retention window. Redis failures fail open: the engine's
// monotonicity guard makes reprocessing safe.
func (i *Intake) seen(ctx context.Context, eventID string) bool {
	if i.redis == nil || eventID == "" {
		return false
	}
	set, err := i.redis.SetNX(ctx, dedupKeyPrefix+eventID, 1, i.cfg.RetentionTTL).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			i.log.WarnContext(ctx, "webhook dedup unavailable",
				logger.Component("webhook_intake"),
				logger.Error(err))
		}
		return false
	}
	return !set
}
