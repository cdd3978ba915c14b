// Black-box tests: only the exported API of the package is used.
package api_test

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// addChiURLParams injects URL parameters the way the chi router does, so
// handlers can be called directly.
func addChiURLParams(req *http.Request, params map[string]string) *http.Request {
	chiCtx := chi.NewRouteContext()
	for key, value := range params {
		chiCtx.URLParams.Add(key, value)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, chiCtx))
}
