package me

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-session/internal/http/middleware"
	"github.com/tendant/simple-idm-session/pkg/domain"
	"github.com/tendant/simple-idm-session/pkg/repository"
)

func TestGetMe(t *testing.T) {
	users := repository.NewMemoryUsersRepository()
	user := &domain.User{ID: uuid.New(), Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	handler := NewHandler(nil, users)

	tests := []struct {
		name       string
		identity   *domain.Identity
		wantStatus int
	}{
		{name: "anonymous", wantStatus: http.StatusUnauthorized},
		{name: "known user", identity: &domain.Identity{UserID: user.ID, Email: user.Email, Claims: map[string]any{
			"sub": user.ID.String(), "iss": "simple-idm", "iat": float64(1700000000), "exp": float64(1700000900),
		}}, wantStatus: http.StatusOK},
		{name: "deleted user", identity: &domain.Identity{UserID: uuid.New()}, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
			if tt.identity != nil {
				req = req.WithContext(context.WithValue(req.Context(), middleware.IdentityKey, tt.identity))
			}
			rec := httptest.NewRecorder()
			handler.GetMe(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body struct {
				Data UserResponse   `json:"data"`
				Meta map[string]any `json:"meta"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Data.ID != user.ID.String() || body.Data.DisplayName != "Ada Lovelace" {
				t.Errorf("data = %+v", body.Data)
			}
			want := map[string]any{"iat": float64(1700000000), "exp": float64(1700000900)}
			if !reflect.DeepEqual(body.Meta, want) {
				t.Errorf("meta = %v, want %v", body.Meta, want)
			}
		})
	}
}
