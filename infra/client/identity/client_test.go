package identity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diagramhub/collab-service/internal/domain/model"
	"github.com/diagramhub/collab-service/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authServer(t *testing.T, status *atomic.Int32, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if code := int(status.Load()); code != 0 {
			w.WriteHeader(code)
			return
		}
		if r.URL.Path != MePath || r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":42,"username":"alice","email":"a@example.com"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Inspect(t *testing.T) {
	var status, hits atomic.Int32
	srv := authServer(t, &status, &hits)
	c := NewClient(srv.URL+"/", WithLogger(quietLogger()))

	ident, err := c.Inspect(context.Background(), service.Credentials{Token: "good"})
	require.NoError(t, err)
	assert.Equal(t, model.Identity{UserID: 42, Username: "alice"}, ident)

	_, err = c.Inspect(context.Background(), service.Credentials{Token: "bad"})
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	_, err = c.Inspect(context.Background(), service.Credentials{})
	assert.ErrorIs(t, err, service.ErrTokenRequired)
}

func TestClient_CachesIdentities(t *testing.T) {
	var status, hits atomic.Int32
	srv := authServer(t, &status, &hits)
	c := NewClient(srv.URL, WithCache(16, time.Minute), WithLogger(quietLogger()))

	for i := 0; i < 3; i++ {
		_, err := c.Inspect(context.Background(), service.Credentials{Token: "good"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())

	// Rejections are never cached.
	for i := 0; i < 2; i++ {
		_, err := c.Inspect(context.Background(), service.Credentials{Token: "bad"})
		require.ErrorIs(t, err, service.ErrUnauthorized)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var status, hits atomic.Int32
	status.Store(http.StatusBadGateway)
	srv := authServer(t, &status, &hits)
	c := NewClient(srv.URL, WithLogger(quietLogger()))

	for i := 0; i < 5; i++ {
		_, err := c.Inspect(context.Background(), service.Credentials{Token: "good"})
		require.ErrorIs(t, err, ErrUnavailable)
	}
	require.Equal(t, int32(5), hits.Load())

	_, err := c.Inspect(context.Background(), service.Credentials{Token: "good"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), hits.Load(), "open breaker short-circuits")
}

func TestClient_RejectionsDoNotTripBreaker(t *testing.T) {
	var status, hits atomic.Int32
	srv := authServer(t, &status, &hits)
	c := NewClient(srv.URL, WithLogger(quietLogger()))

	for i := 0; i < 10; i++ {
		_, err := c.Inspect(context.Background(), service.Credentials{Token: "bad"})
		require.ErrorIs(t, err, service.ErrUnauthorized)
	}

	ident, err := c.Inspect(context.Background(), service.Credentials{Token: "good"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), ident.UserID)
}

func TestHeaderResolver(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		userID  string
		user    string
		want    model.Identity
		wantErr error
	}{
		{name: "valid", token: "t", userID: "7", user: " bob ", want: model.Identity{UserID: 7, Username: "bob"}},
		{name: "no token", userID: "7", wantErr: service.ErrTokenRequired},
		{name: "missing id", token: "t", wantErr: service.ErrUnauthorized},
		{name: "non numeric id", token: "t", userID: "abc", wantErr: service.ErrUnauthorized},
		{name: "negative id", token: "t", userID: "-1", wantErr: service.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.userID != "" {
				h.Set(HeaderUserID, tt.userID)
			}
			if tt.user != "" {
				h.Set(HeaderUsername, tt.user)
			}

			got, err := HeaderResolver{}.Inspect(context.Background(), service.Credentials{Token: tt.token, Headers: h})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
