package api

const (
	maxBodySize = 64 * 1024 // 64 KiB

	headerIdempotencyKey = "Idempotency-Key"
)

// todoPayload is the request body of create and update. A client supplied
// id is read-only and never decoded.
type todoPayload struct {
	Task        *string `json:"task,omitempty"`
	Description *string `json:"description,omitempty"`
	Complete    *bool   `json:"complete,omitempty"`
}

type errorResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	Tasks  int    `json:"tasks"`
}
