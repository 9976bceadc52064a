package domain

// FilePayload is a file to be shipped to the control plane,
// gzip-compressed and base64-encoded.
type FilePayload struct {
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

// EnvVar is a name/value pair forwarded to the load generators.
// Order is preserved on the wire.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DeploymentRequest is the payload submitted to the control plane to
// provision a set of load generators. Immutable once constructed.
type DeploymentRequest struct {
	Locustfile   FilePayload  `json:"locustfile"`
	Requirements *FilePayload `json:"requirements,omitempty"`
	ExtraFiles   *FilePayload `json:"extra_files,omitempty"`
	LocustArgs   []EnvVar     `json:"locust_args"`
	UserCount    int          `json:"user_count"`
	WorkerCount  *int         `json:"worker_count,omitempty"`
	ImageTag     string       `json:"image_tag,omitempty"`
	MockServer   bool         `json:"mock_server"`
	TestrunTags  []string     `json:"testrun_tags,omitempty"`
}

// DeploymentHandle identifies a live deployment: where to stream its
// output from and the session the stream must be bound to.
// DeploymentHash and WebUIURL are optional and depend on the control
// plane version.
type DeploymentHandle struct {
	LogStreamURL   string `json:"log_ws_url"`
	SessionID      string `json:"session_id"`
	DeploymentHash string `json:"deployment_hash,omitempty"`
	WebUIURL       string `json:"webui_url,omitempty"`
}
