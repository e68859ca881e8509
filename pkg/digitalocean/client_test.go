package digitalocean

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"id":"unauthorized","message":"bad token"}`)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{Token: "test-token", BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)
}

func TestClient_GetDroplet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/droplets/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"droplet":{"id":7,"name":"box","status":"off","locked":true,"tags":["nightshift"]}}`)
	})
	c := newTestClient(t, mux)

	d, err := c.GetDroplet(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, Droplet{ID: 7, Name: "box", Status: StatusOff, Locked: true, Tags: []string{"nightshift"}}, *d)
}

func TestClient_APIErrorCarriesRawBody(t *testing.T) {
	const body = `{"id":"not_found","message":"The resource you were accessing could not be found."}`
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/droplets/404", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, body)
	})
	c := newTestClient(t, mux)

	_, err := c.GetDroplet(context.Background(), 404)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, body, apiErr.Body)
	assert.Equal(t, http.MethodGet, apiErr.Method)
	assert.True(t, IsNotFound(err))
}

func TestClient_UnauthorizedIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"id":"unauthorized","message":"Unable to authenticate you"}`)
	}))
	defer srv.Close()

	c, err := NewClient(Options{Token: "wrong", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.ListSnapshots(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.False(t, IsNotFound(err))
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := NewClient(Options{Token: "test-token", BaseURL: addr})
	require.NoError(t, err)

	_, err = c.GetAction(context.Background(), 1)
	require.Error(t, err)

	var transportErr *TransportError
	assert.True(t, errors.As(err, &transportErr))
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestClient_PostDropletAction(t *testing.T) {
	var got ActionRequest
	var contentLength int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/droplets/7/actions", func(w http.ResponseWriter, r *http.Request) {
		contentLength = r.ContentLength
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusCreated, `{"action":{"id":99,"status":"in-progress","type":"snapshot"}}`)
	})
	c := newTestClient(t, mux)

	a, err := c.PostDropletAction(context.Background(), 7, ActionRequest{Type: ActionSnapshot, Name: "nightshift-7"})
	require.NoError(t, err)
	assert.Equal(t, Action{ID: 99, Type: ActionSnapshot, Status: ActionInProgress}, *a)
	assert.Equal(t, ActionRequest{Type: ActionSnapshot, Name: "nightshift-7"}, got)
	assert.Positive(t, contentLength)
}

func TestClient_ListPrivateImagesFollowsPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/images", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("private"))
		switch r.URL.Query().Get("page") {
		case "1":
			writeJSON(w, http.StatusOK, `{
				"images":[{"id":1,"name":"nightshift-7","created_at":"2024-03-01T10:00:00Z"}],
				"links":{"pages":{"next":"http://example/v2/images?page=2&private=true","last":"http://example/v2/images?page=2&private=true"}},
				"meta":{"total":2}}`)
		case "2":
			writeJSON(w, http.StatusOK, `{"images":[{"id":2,"name":"other","created_at":"2024-03-02T10:00:00Z"}],"links":{},"meta":{"total":2}}`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
			writeJSON(w, http.StatusBadRequest, `{}`)
		}
	})
	c := newTestClient(t, mux)

	images, err := c.ListPrivateImages(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "nightshift-7", images[0].Name)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), images[0].CreatedAt)
	assert.Equal(t, 2, images[1].ID)
}

func TestClient_ListSnapshotsAndDroplets(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/snapshots", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "droplet", r.URL.Query().Get("resource_type"))
		writeJSON(w, http.StatusOK, `{"snapshots":[{"id":"101","name":"nightshift-7","resource_id":"7","resource_type":"droplet","created_at":"2024-03-01T10:00:00Z"}],"links":{}}`)
	})
	mux.HandleFunc("GET /v2/droplets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "nightshift", r.URL.Query().Get("tag_name"))
		writeJSON(w, http.StatusOK, `{"droplets":[{"id":7,"status":"active","locked":false}],"links":{}}`)
	})
	c := newTestClient(t, mux)

	snaps, err := c.ListSnapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "101", snaps[0].ID)
	assert.Equal(t, "7", snaps[0].ResourceID)

	droplets, err := c.ListDropletsByTag(context.Background(), "nightshift")
	require.NoError(t, err)
	require.Len(t, droplets, 1)
	assert.Equal(t, StatusActive, droplets[0].Status)
}

func TestClient_CreateAndDeleteDroplet(t *testing.T) {
	var created map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/droplets", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&created)
		writeJSON(w, http.StatusAccepted, `{"droplet":{"id":8,"name":"box","status":"new"}}`)
	})
	mux.HandleFunc("DELETE /v2/droplets/8", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)

	d, err := c.CreateDroplet(context.Background(), &CreateRequest{
		Name:    "box",
		Region:  "lon1",
		Size:    "s-1vcpu-3gb",
		ImageID: 101,
		SSHKeys: []string{"60:d4:a3"},
		Tags:    []string{"nightshift"},
		IPv6:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNew, d.Status)

	assert.Equal(t, "box", created["name"])
	assert.Equal(t, "lon1", created["region"])
	assert.Equal(t, float64(101), created["image"])
	assert.Equal(t, true, created["ipv6"])
	assert.Equal(t, []any{"60:d4:a3"}, created["ssh_keys"])
	assert.Equal(t, []any{"nightshift"}, created["tags"])

	require.NoError(t, c.DeleteDroplet(context.Background(), 8))
}

func TestClient_EmptyEnvelopeIsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/droplets/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})
	mux.HandleFunc("GET /v2/actions/9", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})
	mux.HandleFunc("POST /v2/droplets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, `{}`)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	d, err := c.GetDroplet(ctx, 7)
	assert.Nil(t, d)
	assert.ErrorContains(t, err, "returned no droplet")

	a, err := c.GetAction(ctx, 9)
	assert.Nil(t, a)
	assert.ErrorContains(t, err, "returned no action")

	d, err = c.CreateDroplet(ctx, &CreateRequest{Name: "box", Region: "lon1", Size: "s-1vcpu-3gb", ImageID: 101})
	assert.Nil(t, d)
	assert.ErrorContains(t, err, "returned no droplet")
}
