package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maxpert/headcount/announcer"
	"github.com/maxpert/headcount/notify"
	"github.com/maxpert/headcount/publisher"
	"github.com/maxpert/headcount/subscriber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	last int64
	ok   bool
}

func (f fakePublisher) Topic() string       { return "people/count" }
func (f fakePublisher) Last() (int64, bool) { return f.last, f.ok }

type fakeSampler struct{}

func (fakeSampler) Stats() publisher.SamplerStats {
	return publisher.SamplerStats{Ticks: 10, Published: 3}
}

type fakeSubscriber struct{}

func (fakeSubscriber) Snapshot() map[string]subscriber.TopicSnapshot {
	v := int64(4)
	return map[string]subscriber.TopicSnapshot{
		"people/count": {Value: &v, UpdatedAt: time.Unix(1700000000, 0)},
	}
}

func (fakeSubscriber) Stats() subscriber.Stats {
	return subscriber.Stats{Received: 6, Changed: 2, Duplicate: 4}
}

type fakeAnnouncer struct{}

func (fakeAnnouncer) Stats() announcer.Stats {
	return announcer.Stats{Dispatched: 2, Rendered: 2, LastText: "4 people"}
}

func newTestMux(components Components, secret string) *http.ServeMux {
	mux := http.NewServeMux()
	RegisterRoutes(mux, NewAdminHandlers(components), secret)
	return mux
}

func get(t *testing.T, h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus_AllComponents(t *testing.T) {
	mux := newTestMux(Components{
		InstanceID: "hc-test",
		Role:       "all",
		Broker:     "memory",
		Publisher:  fakePublisher{last: 4, ok: true},
		Sampler:    fakeSampler{},
		Subscriber: fakeSubscriber{},
		Announcer:  fakeAnnouncer{},
	}, "")

	rec := get(t, mux, "/admin/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Data struct {
			InstanceID string `json:"instance_id"`
			Role       string `json:"role"`
			Publisher  struct {
				Topic       string `json:"topic"`
				LastEmitted *int64 `json:"last_emitted"`
				Sampler     struct {
					Ticks uint64 `json:"ticks"`
				} `json:"sampler"`
			} `json:"publisher"`
			Subscriber struct {
				Topics map[string]struct {
					Value *int64 `json:"value"`
				} `json:"topics"`
				Stats struct {
					Duplicate uint64 `json:"duplicate"`
				} `json:"stats"`
			} `json:"subscriber"`
			Announcer struct {
				LastText string `json:"last_text"`
			} `json:"announcer"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))

	assert.Equal(t, "hc-test", body.Data.InstanceID)
	assert.Equal(t, "all", body.Data.Role)
	assert.Equal(t, "people/count", body.Data.Publisher.Topic)
	require.NotNil(t, body.Data.Publisher.LastEmitted)
	assert.Equal(t, int64(4), *body.Data.Publisher.LastEmitted)
	assert.Equal(t, uint64(10), body.Data.Publisher.Sampler.Ticks)
	require.NotNil(t, body.Data.Subscriber.Topics["people/count"].Value)
	assert.Equal(t, int64(4), *body.Data.Subscriber.Topics["people/count"].Value)
	assert.Equal(t, uint64(4), body.Data.Subscriber.Stats.Duplicate)
	assert.Equal(t, "4 people", body.Data.Announcer.LastText)
}

func TestStatus_PublisherOnly(t *testing.T) {
	mux := newTestMux(Components{Role: "publisher", Publisher: fakePublisher{}}, "")

	rec := get(t, mux, "/admin/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))

	data := body["data"]
	assert.NotContains(t, data, "subscriber")
	assert.NotContains(t, data, "announcer")

	pub, ok := data["publisher"].(map[string]interface{})
	require.True(t, ok)
	assert.Nil(t, pub["last_emitted"], "no value published yet")
}

func TestStatus_RequiresSecret(t *testing.T) {
	mux := newTestMux(Components{Role: "subscriber"}, "s3cret")

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"bad scheme", map[string]string{"Authorization": "Basic s3cret"}, http.StatusUnauthorized},
		{"wrong bearer", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"wrong header", map[string]string{SecretHeader: "nope"}, http.StatusUnauthorized},
		{"bearer", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"header", map[string]string{SecretHeader: "s3cret"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, mux, "/admin/status", tt.headers)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHealth_IsPublic(t *testing.T) {
	mux := newTestMux(Components{}, "s3cret")

	rec := get(t, mux, "/admin/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy":true`)
}

func TestAdminRedirect(t *testing.T) {
	mux := newTestMux(Components{}, "")

	rec := get(t, mux, "/admin", nil)
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
}

func TestMetricsDisabledByDefault(t *testing.T) {
	mux := newTestMux(Components{}, "")

	rec := get(t, mux, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatch_NotAvailableWithoutSubscriber(t *testing.T) {
	mux := newTestMux(Components{Role: "publisher"}, "")

	rec := get(t, mux, "/admin/watch", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatch_StreamsChanges(t *testing.T) {
	hub := notify.NewHub()
	srv := httptest.NewServer(newTestMux(Components{Changes: hub}, ""))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/admin/watch?topic=people/count", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	// Headers are flushed only after the hub subscription exists
	require.Equal(t, 1, hub.Watchers())

	hub.Signal(notify.Change{Topic: "cars/count", Value: 9})
	hub.Signal(notify.Change{Topic: "people/count", Value: 4})

	var change notify.Change
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&change))
	assert.Equal(t, "people/count", change.Topic)
	assert.Equal(t, int64(4), change.Value)

	cancel()
	require.Eventually(t, func() bool { return hub.Watchers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_EndsWhenHubClosed(t *testing.T) {
	hub := notify.NewHub()
	hub.Close()
	srv := httptest.NewServer(newTestMux(Components{Changes: hub}, ""))
	defer srv.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(srv.URL + "/admin/watch")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "stream should end instead of hanging")
	assert.Empty(t, body)
}

func TestWatch_WildcardTopic(t *testing.T) {
	hub := notify.NewHub()
	srv := httptest.NewServer(newTestMux(Components{Changes: hub}, ""))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/admin/watch?topic=people/%2B", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 1, hub.Watchers())

	hub.Signal(notify.Change{Topic: "people/lobby/east", Value: 9})
	hub.Signal(notify.Change{Topic: "people/lobby", Value: 2})

	var change notify.Change
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&change))
	assert.Equal(t, "people/lobby", change.Topic)
	assert.Equal(t, int64(2), change.Value)
}
