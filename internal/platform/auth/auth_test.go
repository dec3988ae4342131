package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, sub, name string, roles []string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   sub,
		"name":  name,
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func doRequest(authHeader string, mw ...echo.MiddlewareFunc) (*httptest.ResponseRecorder, *Actor) {
	e := echo.New()
	var captured *Actor
	handler := func(c echo.Context) error {
		captured = ActorFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	}
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, captured
}

func TestMiddlewareValidToken(t *testing.T) {
	token := signToken(t, "u-42", "Dr. Mehta", []string{"curator"})
	rec, actor := doRequest("Bearer "+token, Middleware(testSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if actor == nil || actor.ID != "u-42" || actor.Name != "Dr. Mehta" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestMiddlewareMissingToken(t *testing.T) {
	rec, _ := doRequest("", Middleware(testSecret))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareBadSignature(t *testing.T) {
	claims := jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(time.Hour).Unix()}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))

	rec, _ := doRequest("Bearer "+token, Middleware(testSecret))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	token := signToken(t, "u-7", "", []string{"viewer"})

	rec, _ := doRequest("Bearer "+token, Middleware(testSecret), RequireRole("curator", "admin"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	token = signToken(t, "u-8", "", []string{"curator"})
	rec, _ = doRequest("Bearer "+token, Middleware(testSecret), RequireRole("curator", "admin"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDevMiddlewareInjectsAdmin(t *testing.T) {
	rec, actor := doRequest("", DevMiddleware(), RequireRole("admin"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if actor == nil || actor.ID != "dev" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}
