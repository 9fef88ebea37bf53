package handlers

import (
	"net/http"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
)

// NotFoundHandler is the mux fallback so unknown routes answer with the
// same JSON envelope as everything else.
type NotFoundHandler struct{}

func (NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	writeCoreErrorJSON(w, reqID, core.NewNotFoundError("not found"), http.StatusNotFound)
}
