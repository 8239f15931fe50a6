package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/liliang-cn/graphmem/pkg/auth"
	"github.com/liliang-cn/graphmem/pkg/domain"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: memory", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: memory", domain.ErrAlreadyExists), http.StatusConflict},
		{fmt.Errorf("%w: checksum", domain.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: bad input", domain.ErrInvalidInput), http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("%w: scope", domain.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("%w: too big", domain.ErrQuotaExceeded), http.StatusRequestEntityTooLarge},
		{domain.DependencyError("neo4j", fmt.Errorf("down")), http.StatusBadGateway},
		{fmt.Errorf("plain failure"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestBearerAuthRejectsMissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(BearerAuth(auth.NewManager(nil, "bootstrap")))
	router.GET("/protected", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/protected", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerAuthAcceptsBootstrapKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(BearerAuth(auth.NewManager(nil, "bootstrap-secret")))
	router.GET("/protected", func(c *gin.Context) {
		principal := auth.PrincipalFrom(c.Request.Context())
		if assert.NotNil(t, principal) {
			assert.True(t, principal.Bootstrap)
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer bootstrap-secret")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
