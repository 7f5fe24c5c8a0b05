package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topograph/topograph/pkg/topograph"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	db, err := topograph.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(context.Background()) })

	s := New(db, nil)
	t.Cleanup(s.Close)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func seedGraph(t *testing.T, ts *httptest.Server) {
	t.Helper()
	resp := post(t, ts, "/api/publish", map[string]any{
		"persistence": "persistent",
		"entries": []map[string]any{
			{"identifier": map[string]any{"id": "a", "meta": map[string]any{"kind": "host"}}},
			{"link": map[string]any{
				"a":    map[string]any{"id": "a"},
				"b":    map[string]any{"id": "b", "meta": "worker"},
				"meta": "wired",
			}},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestVersion(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/version")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, Version, body["version"])
}

func TestPublishAndSearch(t *testing.T) {
	_, ts := newTestServer(t)
	seedGraph(t, ts)

	resp := post(t, ts, "/api/search", map[string]any{"start": "a", "max_depth": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[searchResponse](t, resp)

	require.Len(t, body.Results, 2)
	assert.Equal(t, "a", body.Results[0].ID)
	assert.Equal(t, map[string]any{"kind": "host"}, body.Results[0].Meta)
	assert.Equal(t, 0, body.Results[0].Depth)
	assert.Equal(t, "b", body.Results[1].ID)
	assert.Equal(t, "worker", body.Results[1].Meta)
	assert.Equal(t, 1, body.Results[1].Depth)
}

func TestSearchMissingStart(t *testing.T) {
	_, ts := newTestServer(t)

	resp := post(t, ts, "/api/search", map[string]any{"start": "ghost"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSearchBadOrder(t *testing.T) {
	_, ts := newTestServer(t)
	seedGraph(t, ts)

	resp := post(t, ts, "/api/search", map[string]any{"start": "a", "order": "sideways"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessagePublishMissingIdentifier(t *testing.T) {
	_, ts := newTestServer(t)

	resp := post(t, ts, "/api/publish", map[string]any{
		"entries": []map[string]any{
			{"identifier": map[string]any{"id": "ghost", "meta": 1}},
		},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetIdentifier(t *testing.T) {
	_, ts := newTestServer(t)
	seedGraph(t, ts)

	resp, err := http.Get(ts.URL + "/api/identifiers/a")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[identifierResponse](t, resp)
	assert.Equal(t, "a", body.ID)
	assert.Equal(t, []string{"b"}, body.Neighbors)

	resp, err = http.Get(ts.URL + "/api/identifiers/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGraphDump(t *testing.T) {
	_, ts := newTestServer(t)
	seedGraph(t, ts)

	resp, err := http.Get(ts.URL + "/api/graph")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[graphResponse](t, resp)
	assert.Len(t, body.Identifiers, 2)
	require.Len(t, body.Links, 1)
	assert.Equal(t, "a", body.Links[0].A)
	assert.Equal(t, "b", body.Links[0].B)
	assert.Equal(t, "wired", body.Links[0].Meta)
}

func TestSubscribeRequiresDeliveryChannel(t *testing.T) {
	_, ts := newTestServer(t)
	seedGraph(t, ts)

	resp := post(t, ts, "/api/subscriptions", map[string]any{"start": "a"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeliveryWaitsForSubscriptionID(t *testing.T) {
	target := newSubscriptionTarget("http://example.invalid/hook", false)

	got := make(chan string, 1)
	go func() { got <- target.subscriptionID() }()

	select {
	case id := <-got:
		t.Fatalf("subscription id %q read before registration", id)
	case <-time.After(50 * time.Millisecond):
	}

	target.setID("sub-1")
	select {
	case id := <-got:
		assert.Equal(t, "sub-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription id")
	}
}

func TestWebhookSubscription(t *testing.T) {
	_, ts := newTestServer(t)
	seedGraph(t, ts)

	notifications := make(chan Notification, 16)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			t.Errorf("decoding notification: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, n.SubscriptionID, r.Header.Get("X-Topograph-Subscription"))
		notifications <- n
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	resp := post(t, ts, "/api/subscriptions", map[string]any{
		"start":   "a",
		"webhook": hook.URL,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sub := decode[subscribeResponse](t, resp)
	require.NotEmpty(t, sub.ID)

	resp = post(t, ts, "/api/publish", map[string]any{
		"persistence": "persistent",
		"entries": []map[string]any{
			{"identifier": map[string]any{"id": "a", "meta": map[string]any{"kind": "router"}}},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	select {
	case n := <-notifications:
		assert.Equal(t, sub.ID, n.SubscriptionID)
		require.NotEmpty(t, n.Results)
		assert.Equal(t, "a", n.Results[0].ID)
		assert.Equal(t, map[string]any{"kind": "router"}, n.Results[0].Meta)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for webhook notification")
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/subscriptions/"+sub.ID, nil)
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}
