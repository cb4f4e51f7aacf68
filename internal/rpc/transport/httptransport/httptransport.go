// Package httptransport exposes the procedure catalog over a single HTTP
// endpoint: every request carries {path, input, kind}, exactly as queries
// and mutations are described to transports generally. Subscriptions are
// not served here — they belong to ssetransport and wstransport.
package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tandem-dev/tandem/internal/apperror"
	"github.com/tandem-dev/tandem/internal/rpc"
)

// errorResponse and errorDetail mirror internal/server's response.go shape,
// kept local so this package doesn't need an import of internal/server.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope is the single request body shape every call carries.
type envelope struct {
	Path   string          `json:"path"`
	Kind   rpc.Kind        `json:"kind"`
	Input  json.RawMessage `json:"input"`
	Select rpc.Select      `json:"select,omitempty"`
}

var kindStatus = map[apperror.Kind]int{
	apperror.KindValidation: http.StatusBadRequest,
	apperror.KindNotFound:   http.StatusNotFound,
	apperror.KindProvider:   http.StatusBadGateway,
	apperror.KindStream:     http.StatusConflict,
	apperror.KindStorage:    http.StatusInternalServerError,
	apperror.KindAbort:      http.StatusConflict,
	apperror.KindTimeout:    http.StatusGatewayTimeout,
	apperror.KindUnknown:    http.StatusInternalServerError,
}

// Mount registers the single dispatch endpoint at path (e.g. "/rpc").
func Mount(router chi.Router, path string, catalog *rpc.Catalog, rc *rpc.Context) {
	router.Post(path, handle(catalog, rc))
}

func handle(catalog *rpc.Catalog, rc *rpc.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			writeError(w, http.StatusBadRequest, string(apperror.KindValidation), "invalid JSON body")
			return
		}
		if env.Path == "" {
			writeError(w, http.StatusBadRequest, string(apperror.KindValidation), "path is required")
			return
		}

		result, err := catalog.Dispatch(r.Context(), rc, env.Path, env.Kind, env.Input)
		if err != nil {
			kind := apperror.KindOf(err)
			writeError(w, statusFor(kind), string(kind), err.Error())
			return
		}

		if len(env.Select) > 0 {
			pruned, err := rpc.Prune(result, env.Select)
			if err != nil {
				writeError(w, http.StatusInternalServerError, string(apperror.KindUnknown), err.Error())
				return
			}
			result = pruned
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func statusFor(kind apperror.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errorDetail{Code: code, Message: message}})
}
