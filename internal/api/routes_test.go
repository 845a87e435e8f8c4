package api

import (
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestRoutesFollowOpenAPI keeps the hand-maintained route table in step with
// openapi.yaml.
func TestRoutesFollowOpenAPI(t *testing.T) {
	var doc struct {
		Paths map[string]map[string]struct {
			OperationID string `yaml:"operationId"`
		} `yaml:"paths"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(openAPISpec), &doc))

	var documented []string
	for path, ops := range doc.Paths {
		path = strings.NewReplacer("{", ":", "}", "").Replace(path)
		for method := range ops {
			documented = append(documented, strings.ToUpper(method)+" /api/v1"+path)
		}
	}

	e := echo.New()
	RegisterHandlers(e.Group("/api/v1"), &Server{})
	var served []string
	for _, r := range e.Routes() {
		if r.Method == http.MethodPost || r.Method == http.MethodGet {
			served = append(served, r.Method+" "+r.Path)
		}
	}

	sort.Strings(documented)
	sort.Strings(served)
	assert.Equal(t, documented, served)
}
