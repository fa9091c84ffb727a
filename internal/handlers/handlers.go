// Package handlers provides the built-in implementations of the get-data and
// export-file commands, working with example files for file parameters and
// writing exported files to a local directory.
package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"stargate/internal/gateway"
	"stargate/internal/geometry"
	"stargate/internal/session"
	"stargate/pkg/logging"
)

// ExampleFile is a file the get-data handler can supply for a File
// parameter. Data is used when set; otherwise the content is downloaded
// from Href.
type ExampleFile struct {
	Filename    string
	ContentType string
	Href        string
	Data        []byte
}

// defaultFiles are the example files bundled with the client. Only the JSON
// file carries inline content; the binary formats stay advertised so models
// accepting them can be pointed at real files via configuration.
var defaultFiles = []ExampleFile{
	{
		Filename:    "test.json",
		ContentType: "application/json",
		Data:        []byte(`{"example": true, "source": "stargate"}`),
	},
}

// Config configures the built-in handlers.
type Config struct {
	// Files are the example files offered to File parameters.
	// Defaults to the bundled files.
	Files []ExampleFile
	// OutputDir is where exported files are written. Defaults to the
	// current working directory.
	OutputDir string
}

// Handlers implements the get-data and export-file commands.
type Handlers struct {
	files     []ExampleFile
	outputDir string
}

// New creates the built-in handlers.
func New(cfg Config) *Handlers {
	files := cfg.Files
	if files == nil {
		files = defaultFiles
	}
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	return &Handlers{files: files, outputDir: outputDir}
}

// SupportedData advertises the content types, file extensions, and parameter
// types these handlers can serve.
func (h *Handlers) SupportedData() gateway.SupportedData {
	return gateway.SupportedData{
		ContentTypes:   []string{"application/json", "application/dwg", "model/vnd.3dm"},
		FileExtensions: []string{"json", "3dm", "dwg"},
		ParameterTypes: []string{"File"},
	}
}

// GetData supplies an example file for File parameters whose accepted
// formats match one of the configured files. The file is uploaded to the
// geometry backend and referenced by asset id in the reply.
func (h *Handlers) GetData(ctx context.Context, cmd gateway.GetDataCommand, sess *session.ScopedSession) (*gateway.GetDataReply, error) {
	nothing := &gateway.GetDataReply{Info: gateway.GetDataInfo{
		Message: "No data available.",
		Result:  gateway.GetDataNothing,
		Count:   0,
	}}

	paramDef, ok := sess.Session.Parameters[cmd.Parameter.ID]
	if !ok || paramDef.Type != "File" {
		return nothing, nil
	}

	file, ok := h.matchFile(paramDef)
	if !ok {
		return nothing, nil
	}

	data := file.Data
	if data == nil {
		downloaded, err := sess.Geometry.Download(ctx, file.Href)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch example file %s: %w", file.Filename, err)
		}
		data = downloaded
	}

	assets, err := sess.Geometry.RequestFileUpload(ctx, sess.Session.SessionID, map[string]geometry.FileUploadRequest{
		cmd.Parameter.ID: {
			Size:     len(data),
			Filename: file.Filename,
			Format:   file.ContentType,
		},
	})
	if err != nil {
		return nil, err
	}
	asset, ok := assets[cmd.Parameter.ID]
	if !ok {
		return nil, fmt.Errorf("backend issued no upload target for parameter %s", cmd.Parameter.ID)
	}

	if err := sess.Geometry.UploadAsset(ctx, asset.Href, data, file.ContentType); err != nil {
		return nil, err
	}

	logging.Info("Handlers", "Uploaded %s (%d bytes) for parameter %s", file.Filename, len(data), cmd.Parameter.ID)
	return &gateway.GetDataReply{
		Info: gateway.GetDataInfo{
			Message: "File uploaded successfully.",
			Result:  gateway.GetDataSuccess,
			Count:   1,
		},
		Asset: &gateway.AssetRef{ID: asset.ID},
	}, nil
}

// matchFile returns the first configured file whose content type is accepted
// by the parameter.
func (h *Handlers) matchFile(paramDef geometry.ParameterDefinition) (ExampleFile, bool) {
	for _, file := range h.files {
		if slices.Contains(paramDef.Format, file.ContentType) {
			return file, true
		}
	}
	return ExampleFile{}, false
}

// ExportFile computes a download export and writes the requested content
// file to the output directory.
func (h *Handlers) ExportFile(ctx context.Context, cmd gateway.ExportFileCommand, sess *session.ScopedSession) (*gateway.ExportFileReply, error) {
	nothing := func(message string) *gateway.ExportFileReply {
		return &gateway.ExportFileReply{Info: gateway.ExportFileInfo{
			Message: message,
			Result:  gateway.ExportFileNothing,
		}}
	}

	exportDef, ok := sess.Session.Exports[cmd.Export.ID]
	if !ok || exportDef.Type != geometry.ExportTypeDownload {
		return nothing("Export is not of type DOWNLOAD."), nil
	}

	exports, err := sess.Geometry.ComputeExports(ctx, sess.Session.SessionID, geometry.ExportComputationRequest{
		Parameters: cmd.Parameters,
		Exports:    []string{cmd.Export.ID},
	})
	if err != nil {
		return nil, err
	}
	result, ok := exports[cmd.Export.ID]
	if !ok || !result.Succeeded() {
		return nothing("Export computation was not successful."), nil
	}

	if cmd.Export.Index < 0 || cmd.Export.Index >= len(result.Content) {
		return nil, fmt.Errorf("export %s has no content at index %d", cmd.Export.ID, cmd.Export.Index)
	}
	content := result.Content[cmd.Export.Index]

	data, err := sess.Geometry.DownloadWithToken(ctx, content.Href)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(h.outputDir, filepath.Base(result.Filename))
	if err := os.WriteFile(target, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write exported file: %w", err)
	}

	logging.Info("Handlers", "Wrote exported file %s (%d bytes)", target, content.Size)
	return &gateway.ExportFileReply{Info: gateway.ExportFileInfo{
		Message: fmt.Sprintf("File %s downloaded successfully (%d bytes).", result.Filename, content.Size),
		Result:  gateway.ExportFileSuccess,
	}}, nil
}
