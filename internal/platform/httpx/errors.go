package httpx

import (
	"errors"
	"net/http"

	"github.com/lyceum-app/lyceum/internal/core"
)

// RespondError maps the failure taxonomy to RFC7807 responses. Transient
// failures become 503 so clients know a retry is legitimate; conflicts are
// the remote store overruling a locally allowed write and are never
// retried.
func RespondError(w http.ResponseWriter, err error) {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		fields := make([]FieldProblem, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			fields = append(fields, FieldProblem{Field: f.Field, Message: f.Message})
		}
		ProblemWithFields(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error(), fields)
		return
	}
	switch {
	case errors.Is(err, core.ErrImmutableField):
		Problem(w, http.StatusUnprocessableEntity, "Immutable Field", err.Error())
	case errors.Is(err, core.ErrValidationFailed):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, core.ErrAuthorizationDenied):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, core.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, core.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, core.ErrMalformedRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, core.ErrTransient):
		Problem(w, http.StatusServiceUnavailable, "Temporarily Unavailable", "the write is queued and will be retried")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
