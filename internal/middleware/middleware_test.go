package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/service"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
)

type verifierStub struct {
	claims *models.JWTClaims
	seen   string
}

func (v *verifierStub) ValidateToken(token string) (*models.JWTClaims, error) {
	v.seen = token
	if v.claims == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return v.claims, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(router *gin.Engine, method, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJWTRejectsMissingAndMalformedHeaders(t *testing.T) {
	verifier := &verifierStub{claims: &models.JWTClaims{UserID: "u-1", Role: models.RoleAdmin}}
	router := gin.New()
	router.GET("/x", JWT(verifier), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/x", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/x", "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/x", "Bearer   ").Code)
	assert.Empty(t, verifier.seen)

	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodGet, "/x", "bearer abc").Code)
	assert.Equal(t, "abc", verifier.seen)
}

func TestJWTPropagatesVerifierError(t *testing.T) {
	router := gin.New()
	router.GET("/x", JWT(&verifierStub{}), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/x", "Bearer bad").Code)
}

func TestRequireRolesAllowsRolesAndSelf(t *testing.T) {
	newRouter := func(claims *models.JWTClaims) *gin.Engine {
		router := gin.New()
		router.Use(func(c *gin.Context) {
			if claims != nil {
				c.Set(ContextUserKey, claims)
			}
			c.Next()
		})
		router.GET("/teachers/:id", RequireRoles(models.RoleAdmin, RoleSelf), func(c *gin.Context) { c.Status(http.StatusNoContent) })
		return router
	}

	assert.Equal(t, http.StatusUnauthorized, serve(newRouter(nil), http.MethodGet, "/teachers/T1", "").Code)
	assert.Equal(t, http.StatusNoContent, serve(newRouter(&models.JWTClaims{UserID: "A", Role: models.RoleAdmin}), http.MethodGet, "/teachers/T1", "").Code)
	assert.Equal(t, http.StatusNoContent, serve(newRouter(&models.JWTClaims{UserID: "T1", Role: models.RoleTeacher}), http.MethodGet, "/teachers/T1", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(newRouter(&models.JWTClaims{UserID: "T2", Role: models.RoleTeacher}), http.MethodGet, "/teachers/T1", "").Code)
}

func TestResponseMetaCollectsEntries(t *testing.T) {
	var meta map[string]interface{}
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/x", func(c *gin.Context) {
		SetCacheHit(c, true)
		SetMeta(c, "count", 3)
		meta = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})

	serve(router, http.MethodGet, "/x", "")
	require.NotNil(t, meta)
	assert.Equal(t, true, meta["cache_hit"])
	assert.Equal(t, 3, meta["count"])
	assert.Contains(t, meta, "processing_time_ms")
}

func TestExtractMetaWithoutMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, ExtractMeta(c))
	assert.Nil(t, ExtractMeta(nil))

	SetCacheHit(c, false)
	assert.Equal(t, false, ExtractMeta(c)["cache_hit"])
}

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics))
	router.GET("/timetables/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, http.MethodGet, "/timetables/7", "")
	serve(router, http.MethodGet, "/nope/123", "")

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)

	routes := map[string]string{}
	for _, family := range families {
		if family.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			routes[labels["path"]] = labels["status"]
		}
	}
	assert.Equal(t, map[string]string{"/timetables/:id": "200", unmatchedRoute: "404"}, routes)
}
