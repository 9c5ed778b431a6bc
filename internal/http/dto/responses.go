package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type EnqueueResponse struct {
	Outcome string `json:"outcome"`
	Action  any    `json:"action,omitempty"`
}

type RemovedResponse struct {
	Removed bool `json:"removed"`
}
