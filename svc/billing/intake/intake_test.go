package intake_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fitcore/handler"
	"github.com/dmitrymomot/fitcore/pkg/logger"
	"github.com/dmitrymomot/fitcore/svc/billing/gateway"
	"github.com/dmitrymomot/fitcore/svc/billing/intake"
)

type fakeVerifier struct {
	event gateway.Event
	err   error
}

func (f fakeVerifier) VerifyWebhook(payload []byte, signature string) (gateway.Event, error) {
	if f.err != nil {
		return gateway.Event{}, f.err
	}
	return f.event, nil
}

type fakeApplier struct {
	applied []gateway.Event
	err     error
}

func (f *fakeApplier) ApplyEvent(_ context.Context, ev gateway.Event) error {
	f.applied = append(f.applied, ev)
	return f.err
}

func post(t *testing.T, h http.Handler, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIntakeBadSignature(t *testing.T) {
	t.Parallel()

	applier := &fakeApplier{}
	it := intake.New(fakeVerifier{err: gateway.ErrBadSignature}, applier, nil,
		logger.New(logger.WithOutput(io.Discard)), intake.Config{})

	rec := post(t, it, []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, applier.applied, "rejected events are never dispatched")

	var body handler.JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	assert.Equal(t, "bad_signature", body.Error.Code)
}

func TestIntakeDispatchesVerifiedEvent(t *testing.T) {
	t.Parallel()

	applier := &fakeApplier{}
	it := intake.New(fakeVerifier{event: gateway.Event{ID: "evt_1", Type: "customer.created"}}, applier, nil,
		logger.New(logger.WithOutput(io.Discard)), intake.Config{})

	rec := post(t, it, []byte(`{}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, applier.applied, 1)
	assert.Equal(t, "evt_1", applier.applied[0].ID)
}

func TestIntakeAcknowledgesProcessingFailure(t *testing.T) {
	t.Parallel()

	applier := &fakeApplier{err: errors.New("boom")}
	it := intake.New(fakeVerifier{event: gateway.Event{ID: "evt_2", Type: "invoice.payment_failed"}}, applier, nil,
		logger.New(logger.WithOutput(io.Discard)), intake.Config{})

	rec := post(t, it, []byte(`{}`))
	assert.Equal(t, http.StatusOK, rec.Code, "post-verification failures must still acknowledge")

	var body handler.JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	assert.Equal(t, "webhook_processing_failed", body.Error.Code)
}
