package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token   string
	err     error
	queried bool
	exec    struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queried = true
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestRemoveBGAPIKey(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "})
	key, err := store.RemoveBGAPIKey(context.Background())
	if err != nil {
		t.Fatalf("RemoveBGAPIKey error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
}

func TestRemoveBGAPIKey_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.RemoveBGAPIKey(context.Background())
	if err != nil {
		t.Fatalf("RemoveBGAPIKey error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestSetToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetToken(context.Background(), " RemoveBG ", "secret", nil); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != ProviderRemoveBG {
		t.Fatalf("expected provider argument, got %T %v", exec.exec.args[0], exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
	if raw, ok := exec.exec.args[2].([]byte); !ok || string(raw) != "{}" {
		t.Fatalf("expected empty properties, got %v", exec.exec.args[2])
	}
}

func TestSetTokenValidation(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetToken(context.Background(), ProviderRemoveBG, " ", nil); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := store.SetToken(context.Background(), "gemini", "k", nil); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestResolveRemoveBGKey(t *testing.T) {
	exec := &stubExecutor{token: "from-db"}
	key, err := ResolveRemoveBGKey(context.Background(), " from-env ", NewStore(exec))
	if err != nil || key != "from-env" {
		t.Fatalf("got (%q, %v), want from-env", key, err)
	}
	if exec.queried {
		t.Fatal("store should not be queried when a key is configured")
	}

	key, err = ResolveRemoveBGKey(context.Background(), "", NewStore(exec))
	if err != nil || key != "from-db" {
		t.Fatalf("got (%q, %v), want from-db", key, err)
	}

	key, err = ResolveRemoveBGKey(context.Background(), "", nil)
	if err != nil || key != "" {
		t.Fatalf("got (%q, %v), want empty", key, err)
	}
}
