package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/diagramhub/collab-service/internal/domain/model"
)

var (
	ErrTokenRequired = errors.New("token required")
	ErrUnauthorized  = errors.New("invalid token")
)

// Credentials is what the transport could extract from the handshake.
type Credentials struct {
	Token   string
	Headers http.Header
}

// Auther resolves credentials into an identity. Validation of the token
// itself belongs to the auth service behind the implementation.
type Auther interface {
	Inspect(ctx context.Context, creds Credentials) (model.Identity, error)
}
