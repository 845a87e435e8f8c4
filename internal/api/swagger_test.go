package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpecHandler_SubstitutesIssuer(t *testing.T) {
	rec := httptest.NewRecorder()
	SpecHandler("https://issuer.example.com")(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "https://issuer.example.com")
	assert.NotContains(t, body, "{oidcIssuer}")
	assert.Contains(t, body, "/tasks/generate")
}

func TestSwaggerHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	req.Host = "regwatch.example.com"
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	SwaggerHandler("swagger-client")(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `oauth2RedirectUrl: "https://regwatch.example.com/docs/oauth2-redirect.html"`)
	assert.Contains(t, body, `clientId: "swagger-client"`)
	assert.Contains(t, body, "regwatch:run")
	assert.NotContains(t, body, "${")
}
