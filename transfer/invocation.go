package transfer

import (
	"net/http"

	"github.com/google/uuid"
)

// APIClientHeader carries the per-transfer invocation id. Every request a
// transfer makes, retries included, shares the same id.
const APIClientHeader = "X-Goog-Api-Client"

const invocationPrefix = "gccl-invocation-id/"

// NewInvocationID returns a random id for a new transfer.
func NewInvocationID() string {
	return uuid.NewString()
}

// SetInvocationID stamps h with id, keeping any other api-client tokens.
func SetInvocationID(h http.Header, id string) {
	token := invocationPrefix + id
	if cur := h.Get(APIClientHeader); cur != "" {
		h.Set(APIClientHeader, cur+" "+token)
		return
	}
	h.Set(APIClientHeader, token)
}
