package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tributary-ai/agent-gateway/internal/gwerrors"
	"github.com/tributary-ai/agent-gateway/internal/pool"
	"github.com/tributary-ai/agent-gateway/internal/types"
)

func TestCallSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(types.ChatResponse{ID: "resp-1", Model: "will-be-overwritten"})
	}))
	defer srv.Close()

	c := New("secret")
	ep := pool.Endpoint{ID: "e1", BaseURL: srv.URL}
	resp, err := c.Call(context.Background(), ep, []types.Message{{Role: "user", Content: "hi"}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "resp-1", resp.ID)
}

func TestCallClassifiesAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("secret")
	ep := pool.Endpoint{ID: "e1", BaseURL: srv.URL}
	_, err := c.Call(context.Background(), ep, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, gwerrors.Auth, gwerrors.KindOf(err))
}

func TestCallClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New("secret")
	ep := pool.Endpoint{ID: "e1", BaseURL: srv.URL}
	_, err := c.Call(context.Background(), ep, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, gwerrors.RateLimit, gwerrors.KindOf(err))
}

func TestCallOversizedBodyIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		big := make([]byte, MaxResponseBytes+10)
		w.Write(big)
	}))
	defer srv.Close()

	c := New("secret")
	ep := pool.Endpoint{ID: "e1", BaseURL: srv.URL}
	_, err := c.Call(context.Background(), ep, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, gwerrors.InvalidResponse, gwerrors.KindOf(err))
}

func TestCallUnparseableBodyIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New("secret")
	ep := pool.Endpoint{ID: "e1", BaseURL: srv.URL}
	_, err := c.Call(context.Background(), ep, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, gwerrors.InvalidResponse, gwerrors.KindOf(err))
}

func TestCallServerErrorClassifiedAsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("secret")
	ep := pool.Endpoint{ID: "e1", BaseURL: srv.URL}
	_, err := c.Call(context.Background(), ep, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, gwerrors.Network, gwerrors.KindOf(err))
}
