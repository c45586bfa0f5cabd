package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchForwardsBodyVerbatim(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/vnd.coral+json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sessionId":"remote-7","extra":[1,2]}`))
	}))
	defer srv.Close()

	g := New(srv.URL+"/", 0)
	resp, err := g.Dispatch(context.Background(), map[string]string{"privacyKey": "pk"})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/sessions", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "pk", gotBody["privacyKey"])

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/vnd.coral+json", resp.ContentType)
	assert.Equal(t, `{"sessionId":"remote-7","extra":[1,2]}`, string(resp.Body))
	assert.Equal(t, "remote-7", resp.RemoteSessionID())
}

func TestDispatchDefaultsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("plain ack"))
	}))
	defer srv.Close()

	resp, err := New(srv.URL, 0).Dispatch(context.Background(), struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.Equal(t, "plain ack", string(resp.Body))
	assert.Empty(t, resp.RemoteSessionID())
}

func TestDispatchUpstreamErrorKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("agent buffalo not registered"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, 0).Dispatch(context.Background(), struct{}{})

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusUnprocessableEntity, upstream.StatusCode)
	assert.Equal(t, "agent buffalo not registered", string(upstream.Body))
	assert.Equal(t, "text/plain", upstream.ContentType)
}

func TestDispatchTransportErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := New(srv.URL, 20*time.Millisecond).Dispatch(context.Background(), struct{}{})

	var transport *TransportError
	require.True(t, errors.As(err, &transport))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatchRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(bytes.Repeat([]byte("a"), 9<<20))
	}))
	defer srv.Close()

	resp, err := New(srv.URL, 0).Dispatch(context.Background(), struct{}{})

	assert.Nil(t, resp)
	var transport *TransportError
	require.True(t, errors.As(err, &transport))
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestDispatchAcceptsBodyAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), maxBodyBytes))
	}))
	defer srv.Close()

	resp, err := New(srv.URL, 0).Dispatch(context.Background(), struct{}{})

	require.NoError(t, err)
	assert.Len(t, resp.Body, maxBodyBytes)
}

func TestDispatchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(addr, 0).Dispatch(context.Background(), struct{}{})

	var transport *TransportError
	assert.True(t, errors.As(err, &transport))
}

func TestClaimPostsCoralAmount(t *testing.T) {
	var gotPath string
	var gotBody claimRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"claimed":true}`))
	}))
	defer srv.Close()

	g := New(srv.URL, 0)
	_, err := g.Claim(context.Background(), "remote-7", 3000)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/internal/claim/remote-7", gotPath)
	assert.Equal(t, claimRequest{Amount: claimAmount{Type: "coral", Amount: 3000}}, gotBody)

	_, err = g.Claim(context.Background(), "", 1)
	assert.Error(t, err)
}
