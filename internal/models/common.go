package models

// APIResponse is the standard response envelope for the orchestration API.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

// EnqueueJobRequest is the body of POST /api/jobs.
type EnqueueJobRequest struct {
	TenantID    string      `json:"tenant_id"`
	Marketplace string      `json:"marketplace"`
	Action      string      `json:"action"`
	SubjectID   string      `json:"subject_id"`
	Priority    int         `json:"priority"`
	MaxAttempts int         `json:"max_attempts"`
	Payload     interface{} `json:"payload"`
}

// EnqueueBatchItem is one entry of an EnqueueBatchRequest.
type EnqueueBatchItem struct {
	SubjectID string      `json:"subject_id"`
	Payload   interface{} `json:"payload"`
}

// EnqueueBatchRequest is the body of POST /api/batches. All items share
// the batch marketplace and action.
type EnqueueBatchRequest struct {
	TenantID    string             `json:"tenant_id"`
	Marketplace string             `json:"marketplace"`
	Action      string             `json:"action"`
	Priority    int                `json:"priority"`
	MaxAttempts int                `json:"max_attempts"`
	Items       []EnqueueBatchItem `json:"items"`
}
