package geometry

// ComputationStatus describes the outcome of a collect or computation phase
// reported by the geometry backend.
type ComputationStatus string

const (
	// StatusSuccess indicates the phase completed successfully.
	StatusSuccess ComputationStatus = "success"
)

// ExportTypeDownload marks exports that produce a downloadable file.
const ExportTypeDownload = "download"

// ParameterDefinition describes a single model parameter as returned by the
// geometry backend when a session is created.
type ParameterDefinition struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Format []string `json:"format,omitempty"`
}

// ExportDefinition describes a single export of the model.
type ExportDefinition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Session is the geometry backend session created from a platform ticket.
// Parameter and export definitions are keyed by their id.
type Session struct {
	SessionID  string                         `json:"sessionId"`
	Parameters map[string]ParameterDefinition `json:"parameters"`
	Exports    map[string]ExportDefinition    `json:"exports"`
}

// FileUploadRequest describes a file to be uploaded for a parameter.
type FileUploadRequest struct {
	Size     int    `json:"size"`
	Filename string `json:"filename"`
	Format   string `json:"format"`
}

// FileUploadAsset is the upload target issued by the backend for a single
// parameter: the asset id to reference in computations and the presigned
// href to upload the content to.
type FileUploadAsset struct {
	ID   string `json:"id"`
	Href string `json:"href"`
}

type fileUploadResponse struct {
	Asset struct {
		File map[string]FileUploadAsset `json:"file"`
	} `json:"asset"`
}

// ExportComputationRequest asks the backend to compute a set of exports with
// the given parameter values.
type ExportComputationRequest struct {
	Parameters map[string]string `json:"parameters"`
	Exports    []string          `json:"exports"`
}

// ExportContent is one file produced by a computed export.
type ExportContent struct {
	Href string `json:"href"`
	Size int64  `json:"size"`
}

// ExportResult is the computed state of a single export.
type ExportResult struct {
	ID                string            `json:"id"`
	Filename          string            `json:"filename"`
	StatusCollect     ComputationStatus `json:"status_collect"`
	StatusComputation ComputationStatus `json:"status_computation"`
	Content           []ExportContent   `json:"content"`
}

// Succeeded reports whether both the collect and computation phases of the
// export finished successfully.
func (r ExportResult) Succeeded() bool {
	return r.StatusCollect == StatusSuccess && r.StatusComputation == StatusSuccess
}

type exportComputationResponse struct {
	Exports map[string]ExportResult `json:"exports"`
}
