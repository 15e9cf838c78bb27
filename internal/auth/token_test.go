package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/support-chat/internal/errs"
	"github.com/psds-microservice/support-chat/internal/model"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("secret", model.User{ID: 7, Name: "Olga", Role: model.RoleOperator}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := Parse("secret", tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != 7 || claims.Role != model.RoleOperator || claims.User().Name != "Olga" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, err := Parse("other", tok); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong secret, got %v", err)
	}
}

func TestParseExpired(t *testing.T) {
	tok, err := Issue("secret", model.User{ID: 7, Role: model.RoleUser}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse("secret", tok); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestParseUnverified(t *testing.T) {
	tok, err := Issue("whatever", model.User{ID: 3, Role: model.RoleAdmin}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := ParseUnverified(tok)
	if err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	if v := claims.Viewer(); v.ID != 3 || v.Role != model.RoleAdmin {
		t.Fatalf("unexpected viewer: %+v", v)
	}
	if _, err := ParseUnverified("not-a-token"); err == nil {
		t.Fatalf("expected garbage token to fail")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware("secret"), func(c *gin.Context) {
		claims, ok := FromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	tok, _ := Issue("secret", model.User{ID: 9, Role: model.RoleUser}, time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", w.Code, w.Body.String())
	}
}
