package gateway

import "encoding/json"

// CommandType identifies the kind of message carried by an envelope.
type CommandType string

// Command types exchanged with the gateway. Register and error are
// control messages; the rest are inbound commands this client serves.
const (
	CommandRegister         CommandType = "register"
	CommandError            CommandType = "error"
	CommandStatus           CommandType = "status"
	CommandGetSupportedData CommandType = "get-supported-data"
	CommandPrepareModel     CommandType = "prepare-model"
	CommandGetData          CommandType = "get-data"
	CommandBakeData         CommandType = "bake-data"
	CommandExportFile       CommandType = "export-file"
)

// Envelope is the wire frame for every gateway message. Replies reuse the id
// of the command they answer, so distinct commands may complete out of order.
type Envelope struct {
	ID      string          `json:"id"`
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterRequest announces this client to the gateway.
type RegisterRequest struct {
	Token      string `json:"token"`
	ClientName string `json:"clientName"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	Hostname   string `json:"hostname"`
	Extension  string `json:"extension"`
}

// ErrorPayload is the body of gateway error messages.
type ErrorPayload struct {
	Message string `json:"message"`
}

// StatusReply answers the periodic status command with activity timestamps
// in unix seconds.
type StatusReply struct {
	FirstActivity  int64 `json:"firstActivity"`
	LatestActivity int64 `json:"latestActivity"`
}

// SupportedData advertises which parameter types, type hints, content types,
// and file extensions this client's handlers can serve.
type SupportedData struct {
	ParameterTypes []string `json:"parameterTypes"`
	TypeHints      []string `json:"typeHints"`
	ContentTypes   []string `json:"contentTypes"`
	FileExtensions []string `json:"fileExtensions"`
}

// Merge overlays the non-nil fields of other onto s and returns the result.
func (s SupportedData) Merge(other SupportedData) SupportedData {
	merged := s
	if other.ParameterTypes != nil {
		merged.ParameterTypes = other.ParameterTypes
	}
	if other.TypeHints != nil {
		merged.TypeHints = other.TypeHints
	}
	if other.ContentTypes != nil {
		merged.ContentTypes = other.ContentTypes
	}
	if other.FileExtensions != nil {
		merged.FileExtensions = other.FileExtensions
	}
	return merged
}

// ModelRef identifies the model a command operates on.
type ModelRef struct {
	ID string `json:"id"`
}

// ParameterRef identifies a parameter of the model.
type ParameterRef struct {
	ID string `json:"id"`
}

// ExportRef identifies an export of the model and the index of the content
// file to deliver.
type ExportRef struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
}

// PrepareModelResult is the outcome of a prepare-model command.
type PrepareModelResult string

const (
	PrepareModelSuccess PrepareModelResult = "SUCCESS"
	PrepareModelNothing PrepareModelResult = "NOTHING"
)

// PrepareModelCommand asks the client to resolve a session for a model ahead
// of further commands.
type PrepareModelCommand struct {
	Model ModelRef `json:"model"`
}

// PrepareModelReply is the answer to a prepare-model command.
type PrepareModelReply struct {
	Info PrepareModelInfo `json:"info"`
}

// PrepareModelInfo carries the prepare-model outcome.
type PrepareModelInfo struct {
	Message string             `json:"message,omitempty"`
	Result  PrepareModelResult `json:"result"`
}

// GetDataResult is the outcome of a get-data command.
type GetDataResult string

const (
	GetDataSuccess GetDataResult = "SUCCESS"
	GetDataNothing GetDataResult = "NOTHING"
)

// GetDataCommand asks the client to supply data for a model parameter.
type GetDataCommand struct {
	Model     ModelRef     `json:"model"`
	Parameter ParameterRef `json:"parameter"`
}

// GetDataReply is the answer to a get-data command. Asset is set when data
// was uploaded for the parameter.
type GetDataReply struct {
	Info  GetDataInfo `json:"info"`
	Asset *AssetRef   `json:"asset,omitempty"`
}

// GetDataInfo carries the get-data outcome and the number of items supplied.
type GetDataInfo struct {
	Message string        `json:"message,omitempty"`
	Result  GetDataResult `json:"result"`
	Count   int           `json:"count"`
}

// AssetRef references an asset previously uploaded to the geometry backend.
type AssetRef struct {
	ID string `json:"id"`
}

// BakeDataResult is the outcome of a bake-data command.
type BakeDataResult string

const (
	BakeDataSuccess BakeDataResult = "SUCCESS"
	BakeDataNothing BakeDataResult = "NOTHING"
)

// BakeDataCommand asks the client to bake data produced by a model output.
type BakeDataCommand struct {
	Model ModelRef `json:"model"`
}

// BakeDataReply is the answer to a bake-data command.
type BakeDataReply struct {
	Info BakeDataInfo `json:"info"`
}

// BakeDataInfo carries the bake-data outcome and the number of baked items.
type BakeDataInfo struct {
	Message string         `json:"message,omitempty"`
	Result  BakeDataResult `json:"result"`
	Count   int            `json:"count"`
}

// ExportFileResult is the outcome of an export-file command.
type ExportFileResult string

const (
	ExportFileSuccess ExportFileResult = "SUCCESS"
	ExportFileNothing ExportFileResult = "NOTHING"
)

// ExportFileCommand asks the client to compute an export with the given
// parameter values and deliver one of its content files.
type ExportFileCommand struct {
	Model      ModelRef          `json:"model"`
	Parameters map[string]string `json:"parameters"`
	Export     ExportRef         `json:"export"`
}

// ExportFileReply is the answer to an export-file command.
type ExportFileReply struct {
	Info ExportFileInfo `json:"info"`
}

// ExportFileInfo carries the export-file outcome.
type ExportFileInfo struct {
	Message string           `json:"message,omitempty"`
	Result  ExportFileResult `json:"result"`
}
