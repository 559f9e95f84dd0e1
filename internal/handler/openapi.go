package handler

import (
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/soetuniversity/portal/internal/openapi"
)

// OpenAPIHandler serves the generated API document.
type OpenAPIHandler struct {
	baseURL string
	version string
	uploads bool

	once sync.Once
	doc  *openapi3.T
}

// NewOpenAPIHandler creates a new OpenAPIHandler. The document is built on
// first request and cached.
func NewOpenAPIHandler(baseURL, version string, uploads bool) *OpenAPIHandler {
	return &OpenAPIHandler{baseURL: baseURL, version: version, uploads: uploads}
}

// ServeSpec returns the OpenAPI 3.1 document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.doc = openapi.Generate(h.baseURL, h.version, h.uploads)
	})
	writeJSON(w, http.StatusOK, h.doc)
}
