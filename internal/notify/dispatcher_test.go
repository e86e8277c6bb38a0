package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vantagestack/vantage-intel/internal/models"
)

type recordingChannel struct {
	name string
	err  error
	sent []models.Alert
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, alert models.Alert) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, alert)
	return nil
}

func TestDispatchFansOut(t *testing.T) {
	d := NewDispatcher(nil)
	email := &recordingChannel{name: "email"}
	pager := &recordingChannel{name: "pager"}
	d.Register(email)
	d.Register(pager)

	alert := models.Alert{ID: "a1", SubjectID: "acme", Priority: 8}
	delivered := d.Dispatch(context.Background(), alert, []string{"email", "pager"})

	require.Equal(t, 2, delivered)
	require.Len(t, email.sent, 1)
	require.Len(t, pager.sent, 1)
}

func TestDispatchSkipsUnknownAndFailingChannels(t *testing.T) {
	d := NewDispatcher(nil)
	broken := &recordingChannel{name: "broken", err: errors.New("smtp down")}
	working := &recordingChannel{name: "working"}
	d.Register(broken)
	d.Register(working)

	alert := models.Alert{ID: "a1", SubjectID: "acme"}
	delivered := d.Dispatch(context.Background(), alert, []string{"missing", "broken", "working"})

	require.Equal(t, 1, delivered)
	require.Len(t, working.sent, 1, "one failing channel must not block the rest")
}

func TestWebhookChannelPostsAlert(t *testing.T) {
	var got models.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	alert := models.Alert{ID: "a1", SubjectID: "acme", Priority: 9, Urgency: models.UrgencyCritical}
	require.NoError(t, ch.Send(context.Background(), alert))
	require.Equal(t, "a1", got.ID)
	require.Equal(t, models.UrgencyCritical, got.Urgency)
}

func TestWebhookChannelRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	err := ch.Send(context.Background(), models.Alert{ID: "a1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}
