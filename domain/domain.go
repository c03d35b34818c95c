package domain

// UploadResponse is the JSON body returned for every upload request.
type UploadResponse struct {
	Error     bool         `json:"error"`
	Message   string       `json:"message"`
	Kind      ErrorKind    `json:"kind,omitempty"`
	Part      int          `json:"part,omitempty"`
	Details   string       `json:"details,omitempty"`
	Count     int          `json:"count"`
	Files     []StoredFile `json:"files"`
	RequestID string       `json:"request_id,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
