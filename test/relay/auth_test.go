package relay_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"drawbridge/internal/relay"
)

func TestJWTService(t *testing.T) {
	service := relay.NewJWTService("0123456789abcdef0123456789abcdef", "drawbridge-relay", 1)

	t.Run("generate and validate roundtrip", func(t *testing.T) {
		token, err := service.GenerateToken("operator")
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}
		if token == "" {
			t.Fatal("Expected non-empty token")
		}

		claims, err := service.ValidateToken(token)
		if err != nil {
			t.Fatalf("Failed to validate token: %v", err)
		}
		if claims.Name != "operator" {
			t.Errorf("Expected name operator, got %s", claims.Name)
		}
		if claims.Subject != "operator" {
			t.Errorf("Expected subject operator, got %s", claims.Subject)
		}
		if claims.Issuer != "drawbridge-relay" {
			t.Errorf("Expected issuer drawbridge-relay, got %s", claims.Issuer)
		}
		if claims.ExpiresAt == nil || claims.ExpiresAt.Before(claims.IssuedAt.Time) {
			t.Error("Expected expiry after issue time")
		}
	})

	t.Run("rejects token signed with another secret", func(t *testing.T) {
		other := relay.NewJWTService("ffffffffffffffffffffffffffffffff", "drawbridge-relay", 1)
		token, err := other.GenerateToken("operator")
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}

		if _, err := service.ValidateToken(token); err == nil {
			t.Error("Expected validation to fail for foreign signature")
		}
	})

	t.Run("rejects tampered token", func(t *testing.T) {
		token, err := service.GenerateToken("operator")
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}

		tampered := token[:len(token)-2] + "xx"
		if _, err := service.ValidateToken(tampered); err == nil {
			t.Error("Expected validation to fail for tampered token")
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		if _, err := service.ValidateToken("not-a-jwt"); err == nil {
			t.Error("Expected validation to fail for garbage input")
		}
	})
}

func TestKeyService(t *testing.T) {
	service := relay.NewKeyService()

	t.Run("hash format", func(t *testing.T) {
		hash, err := service.HashKey("my-admin-key")
		if err != nil {
			t.Fatalf("Failed to hash key: %v", err)
		}
		if !strings.HasPrefix(hash, "$argon2id$v=19$") {
			t.Errorf("Expected argon2id hash, got %s", hash)
		}
	})

	t.Run("verify correct key", func(t *testing.T) {
		hash, err := service.HashKey("my-admin-key")
		if err != nil {
			t.Fatalf("Failed to hash key: %v", err)
		}

		ok, err := service.VerifyKey("my-admin-key", hash)
		if err != nil {
			t.Fatalf("Failed to verify key: %v", err)
		}
		if !ok {
			t.Error("Expected correct key to verify")
		}
	})

	t.Run("reject wrong key", func(t *testing.T) {
		hash, err := service.HashKey("my-admin-key")
		if err != nil {
			t.Fatalf("Failed to hash key: %v", err)
		}

		ok, err := service.VerifyKey("another-key", hash)
		if err != nil {
			t.Fatalf("Failed to verify key: %v", err)
		}
		if ok {
			t.Error("Expected wrong key to be rejected")
		}
	})

	t.Run("malformed hash is an error", func(t *testing.T) {
		if _, err := service.VerifyKey("my-admin-key", "$argon2id$broken"); err == nil {
			t.Error("Expected error for malformed hash")
		}
	})

	t.Run("salts are random", func(t *testing.T) {
		first, err := service.HashKey("my-admin-key")
		if err != nil {
			t.Fatalf("Failed to hash key: %v", err)
		}
		second, err := service.HashKey("my-admin-key")
		if err != nil {
			t.Fatalf("Failed to hash key: %v", err)
		}
		if first == second {
			t.Error("Expected distinct hashes for the same key")
		}
	})
}

func TestAuthMiddleware(t *testing.T) {
	jwtService := relay.NewJWTService("0123456789abcdef0123456789abcdef", "drawbridge-relay", 1)
	middleware := relay.NewAuthMiddleware(jwtService)

	var gotName string
	protected := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := relay.GetClaimsFromContext(r)
		if !ok {
			http.Error(w, "no claims", http.StatusInternalServerError)
			return
		}
		gotName = claims.Name
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/status", nil)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})

	t.Run("non-bearer header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/status", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/status", nil)
		req.Header.Set("Authorization", "Bearer not-a-valid-token")
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})

	t.Run("valid token reaches handler with claims", func(t *testing.T) {
		token, err := jwtService.GenerateToken("operator")
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}

		req := httptest.NewRequest("GET", "/api/v1/status", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rec.Code)
		}
		if gotName != "operator" {
			t.Errorf("Expected claims for operator, got %q", gotName)
		}
	})
}
