package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"packshot/internal/infra"
	"packshot/internal/sqlinline"
)

// Providers whose API keys can be stored in integration_tokens.
const (
	ProviderRemoveBG = "removebg"
)

// Store reads and writes provider API keys kept in the database so they can
// be rotated without redeploying.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Supported reports whether keys for provider can be stored.
func Supported(provider string) bool {
	switch provider {
	case ProviderRemoveBG:
		return true
	default:
		return false
	}
}

func (s *Store) RemoveBGAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderRemoveBG)
}

// Token returns the stored token for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores or replaces the token for provider.
func (s *Store) SetToken(ctx context.Context, provider, token string, props map[string]any) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !Supported(provider) {
		return fmt.Errorf("unsupported provider %q", provider)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

// ResolveRemoveBGKey prefers the configured key and falls back to the store.
func ResolveRemoveBGKey(ctx context.Context, configured string, store *Store) (string, error) {
	if key := strings.TrimSpace(configured); key != "" || store == nil {
		return key, nil
	}
	return store.RemoveBGAPIKey(ctx)
}
