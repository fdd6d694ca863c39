package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func requireRoleWith(t *testing.T, userRoles []string, required ...string) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if userRoles != nil {
		req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, userRoles))
	}
	c := e.NewContext(req, httptest.NewRecorder())
	return RequireRole(required...)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name      string
		userRoles []string
		required  []string
		allowed   bool
	}{
		{"matching role", []string{"prescriber"}, []string{"prescriber", "integration"}, true},
		{"second role matches", []string{"viewer", "integration"}, []string{"prescriber", "integration"}, true},
		{"admin bypass", []string{"admin"}, []string{"prescriber"}, true},
		{"no matching role", []string{"pharmacist"}, []string{"prescriber"}, false},
		{"no roles", nil, []string{"prescriber"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requireRoleWith(t, tt.userRoles, tt.required...)
			if tt.allowed {
				if err != nil {
					t.Errorf("expected access, got %v", err)
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != http.StatusForbidden {
				t.Errorf("expected 403, got %v", err)
			}
		})
	}
}
