package identity

import (
	"context"
	"strconv"
	"strings"

	"github.com/diagramhub/collab-service/internal/domain/model"
	"github.com/diagramhub/collab-service/internal/service"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUsername = "X-Username"
)

var _ service.Auther = HeaderResolver{}

// HeaderResolver trusts an upstream gateway that already validated the token
// and injected the caller's identity into request headers.
type HeaderResolver struct{}

func (HeaderResolver) Inspect(_ context.Context, creds service.Credentials) (model.Identity, error) {
	if creds.Token == "" {
		return model.Identity{}, service.ErrTokenRequired
	}

	uid, err := strconv.ParseInt(strings.TrimSpace(creds.Headers.Get(HeaderUserID)), 10, 64)
	if err != nil || uid <= 0 {
		return model.Identity{}, service.ErrUnauthorized
	}

	return model.Identity{
		UserID:   uid,
		Username: strings.TrimSpace(creds.Headers.Get(HeaderUsername)),
	}, nil
}
