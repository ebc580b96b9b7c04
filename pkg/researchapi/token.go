package researchapi

import (
	"context"

	"podcast-research-sync/pkg/kvstore"
)

// AuthTokenKey is where a signed-in client keeps its bearer token.
const AuthTokenKey = "auth_token"

// TokenSource returns the bearer token to send, or "" when signed out.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type noToken struct{}

func (noToken) Token(context.Context) (string, error) { return "", nil }

// StoreTokenSource reads the token from the same store as the session pointer.
type StoreTokenSource struct {
	Store kvstore.Store
	Key   string
}

func NewStoreTokenSource(store kvstore.Store) *StoreTokenSource {
	return &StoreTokenSource{Store: store, Key: AuthTokenKey}
}

func (s *StoreTokenSource) Token(ctx context.Context) (string, error) {
	token, _, err := s.Store.Get(ctx, s.Key)
	return token, err
}

// StaticToken always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
