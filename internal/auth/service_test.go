package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type memStore struct {
	ops    map[string]*Operator
	hashes map[string]string
}

func newMemStore() *memStore {
	return &memStore{ops: map[string]*Operator{}, hashes: map[string]string{}}
}

func (m *memStore) Create(_ context.Context, op *Operator, hash string) error {
	if _, ok := m.ops[op.Email]; ok {
		return &pgconn.PgError{Code: "23505"}
	}
	op.CreatedAt = time.Now()
	m.ops[op.Email] = op
	m.hashes[op.Email] = hash
	return nil
}

func (m *memStore) GetByEmail(_ context.Context, email string) (*Operator, string, error) {
	op, ok := m.ops[email]
	if !ok {
		return nil, "", nil
	}
	return op, m.hashes[email], nil
}

func TestCreateOperatorAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), "test-secret")

	op, err := svc.CreateOperator(ctx, "ops@example.com", "hunter22", "Ops", RoleAdmin)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateOperator(ctx, "ops@example.com", "x", "Dup", RoleViewer); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}
	if _, err := svc.CreateOperator(ctx, "x@example.com", "x", "X", "root"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}

	token, err := svc.Login(ctx, "ops@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	id, role, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if id != op.ID || role != RoleAdmin {
		t.Errorf("claims mismatch: %s %s", id, role)
	}

	if _, err := svc.Login(ctx, "ops@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateToken_RejectsExpiredAndForeign(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewService(store, "test-secret")
	if _, err := svc.CreateOperator(ctx, "a@example.com", "pw", "A", RoleViewer); err != nil {
		t.Fatal(err)
	}
	token, err := svc.Login(ctx, "a@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}

	other := NewService(store, "other-secret")
	if _, _, err := other.ValidateToken(ctx, token); err == nil {
		t.Error("token signed with another secret must not validate")
	}

	svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if _, _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Error("token must expire after 24h")
	}
}

func TestLoginHandler(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), "test-secret")
	if _, err := svc.CreateOperator(ctx, "a@example.com", "pw", "A", RoleAdmin); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(svc, nil)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"ok", `{"email":"a@example.com","password":"pw"}`, http.StatusOK},
		{"bad password", `{"email":"a@example.com","password":"nope"}`, http.StatusUnauthorized},
		{"missing fields", `{"email":"a@example.com"}`, http.StatusBadRequest},
		{"invalid json", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Login(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON content type, got %q", ct)
			}
			if tc.want == http.StatusOK && !strings.Contains(rec.Body.String(), `"token"`) {
				t.Errorf("expected token in body, got %s", rec.Body.String())
			}
			if tc.want != http.StatusOK {
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
					t.Errorf("expected {\"error\": ...} body, got %s", rec.Body.String())
				}
			}
		})
	}
}
