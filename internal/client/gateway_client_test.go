package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops-service/internal/config"
	"fieldops-service/internal/notify"
)

func newTestClient(url string) *GatewayClient {
	c := NewGatewayClient(&config.Config{Notify: config.NotifyConfig{GatewayURL: url, GatewayToken: "tok"}})
	c.backoff = time.Millisecond
	return c
}

func TestGatewayDispatchSendsMessage(t *testing.T) {
	var got notify.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "12", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message_id":"gw-1"}`))
	}))
	defer srv.Close()

	msg := notify.TicketMessage(notify.EventSLAWarning, 7, notify.RecipientDispatcher, time.Now())
	msg.NotificationID = 12

	receipt, err := newTestClient(srv.URL).Dispatch(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "gw-1", receipt.ProviderMessageID)
	assert.Equal(t, notify.EventSLAWarning, got.EventKind)
	require.NotNil(t, got.TicketID)
	assert.Equal(t, uint(7), *got.TicketID)
}

func TestGatewayDispatchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"message_id":"gw-2"}`))
	}))
	defer srv.Close()

	receipt, err := newTestClient(srv.URL).Dispatch(context.Background(), notify.TicketMessage(notify.EventTicketCreated, 1, notify.RecipientCustomer, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "gw-2", receipt.ProviderMessageID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGatewayDispatchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Dispatch(context.Background(), notify.TicketMessage(notify.EventTicketCreated, 1, notify.RecipientCustomer, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGatewayDispatchRequiresURL(t *testing.T) {
	_, err := newTestClient("").Dispatch(context.Background(), notify.Message{})
	assert.Error(t, err)
}
