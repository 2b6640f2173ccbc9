package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// mustMarshal marshals a JSON schema literal; schemas are compile-time
// constants so a failure is a programming error.
func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// DefaultTools returns the fixed tool registry advertised to the model. The
// set never changes at runtime; both provider families receive the same
// definitions.
func DefaultTools() []Tool {
	return []Tool{
		{
			Type: "function",
			Function: FunctionDef{
				Name:        "list_files",
				Description: "Lists files and directories at a given path within the workspace.",
				Parameters: mustMarshal(map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "The relative path from the workspace root. Defaults to '.'.",
						},
					},
					"required": []string{},
				}),
			},
		},
		{
			Type: "function",
			Function: FunctionDef{
				Name:        "read_file",
				Description: "Reads the full content of a file within the workspace.",
				Parameters: mustMarshal(map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "The relative path to the file.",
						},
					},
					"required": []string{"path"},
				}),
			},
		},
		{
			Type: "function",
			Function: FunctionDef{
				Name:        "write_file",
				Description: "Writes or overwrites an ENTIRE file with new content. WARNING: Do not use for small edits; use apply_file_edit instead.",
				Parameters: mustMarshal(map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "The relative path to the file.",
						},
						"content": map[string]interface{}{
							"type":        "string",
							"description": "The full content to write to the file.",
						},
					},
					"required": []string{"path", "content"},
				}),
			},
		},
		{
			Type: "function",
			Function: FunctionDef{
				Name:        "create_directory",
				Description: "Creates a new directory (and any parent directories).",
				Parameters: mustMarshal(map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "The relative path for the new directory.",
						},
					},
					"required": []string{"path"},
				}),
			},
		},
		{
			Type: "function",
			Function: FunctionDef{
				Name:        "delete_file",
				Description: "Deletes a file.",
				Parameters: mustMarshal(map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "The relative path of the file to delete.",
						},
					},
					"required": []string{"path"},
				}),
			},
		},
		{
			Type: "function",
			Function: FunctionDef{
				Name:        "apply_file_edit",
				Description: "Applies a precise search-and-replace edit to a file. The search_block must match existing content exactly (or close enough for fuzzy matching) and be unique.",
				Parameters: mustMarshal(map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "The relative path to the file to modify.",
						},
						"search_block": map[string]interface{}{
							"type":        "string",
							"description": "The exact block of code to find. Must be unique in the file.",
						},
						"replace_block": map[string]interface{}{
							"type":        "string",
							"description": "The new block of code to insert in place of the search_block.",
						},
					},
					"required": []string{"path", "search_block", "replace_block"},
				}),
			},
		},
	}
}

// ToolResult records one dispatched call: the JSON envelope handed back to
// the model plus bookkeeping for the UI and logs.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// ConfirmRequest describes a pending mutation for an interactive gate.
type ConfirmRequest struct {
	Tool string
	Path string
	Diff string
}

// ConfirmFunc decides whether a mutating tool call may proceed. A nil func
// means autonomous mode: everything is approved.
type ConfirmFunc func(req ConfirmRequest) bool

// Dispatcher routes tool calls to workspace operations. It is the
// error-containment boundary for the whole tool surface: every failure
// underneath, including panics, becomes a structured {success:false, error}
// envelope and nothing propagates to the orchestration loop.
type Dispatcher struct {
	ws      *Workspace
	confirm ConfirmFunc
	logger  *slog.Logger
}

func NewDispatcher(ws *Workspace, confirm ConfirmFunc, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = NopLogger()
	}
	return &Dispatcher{ws: ws, confirm: confirm, logger: logger}
}

// Dispatch executes one tool call and returns its result. It never returns
// an error and never panics; malformed names and arguments come back as
// failure envelopes the model can read and correct.
func (d *Dispatcher) Dispatch(call ToolCall) ToolResult {
	start := time.Now()
	name := call.Function.Name

	envelope := d.execute(name, call.Function.Arguments)

	payload, err := json.Marshal(envelope)
	if err != nil {
		payload = []byte(`{"success":false,"error":"tool result was not serializable"}`)
	}

	result := ToolResult{
		ToolCallID: call.ID,
		Name:       name,
		Output:     string(payload),
		DurationMs: time.Since(start).Milliseconds(),
	}
	result.Success, _ = envelope["success"].(bool)
	result.Error, _ = envelope["error"].(string)

	d.logger.Debug("tool dispatched",
		"tool", name,
		"success", result.Success,
		"duration_ms", result.DurationMs)
	return result
}

func (d *Dispatcher) execute(name, rawArgs string) (envelope map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked", "tool", name, "panic", fmt.Sprint(r))
			envelope = failure(fmt.Sprintf("Error executing tool %s: %v", name, r))
		}
	}()

	if name == "" {
		return failure("Could not parse function name from tool call.")
	}
	raw := strings.TrimSpace(rawArgs)
	if raw == "" || raw == "null" {
		raw = "{}"
	}
	if !json.Valid([]byte(raw)) {
		return failure(fmt.Sprintf("Invalid JSON in arguments for %s.", name))
	}

	switch name {
	case "list_files":
		return d.listFiles(raw)
	case "read_file":
		return d.readFile(raw)
	case "write_file":
		return d.writeFile(raw)
	case "create_directory":
		return d.createDirectory(raw)
	case "delete_file":
		return d.deleteFile(raw)
	case "apply_file_edit":
		return d.applyFileEdit(raw)
	default:
		return failure(fmt.Sprintf("Unknown tool: %s", name))
	}
}

func (d *Dispatcher) listFiles(raw string) map[string]any {
	var args struct {
		Path *string `json:"path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return argumentMismatch("list_files", err)
	}
	path := "."
	if args.Path != nil {
		path = *args.Path
	}
	files, err := d.ws.ListFiles(path)
	if err != nil {
		return pathFailure("list_files", path, err)
	}
	return map[string]any{"success": true, "files": files}
}

func (d *Dispatcher) readFile(raw string) map[string]any {
	var args struct {
		Path *string `json:"path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return argumentMismatch("read_file", err)
	}
	if args.Path == nil {
		return argumentMismatch("read_file", errors.New("missing required argument 'path'"))
	}
	content, err := d.ws.ReadFile(*args.Path)
	if err != nil {
		return pathFailure("read_file", *args.Path, err)
	}
	return map[string]any{"success": true, "content": content}
}

func (d *Dispatcher) writeFile(raw string) map[string]any {
	var args struct {
		Path    *string `json:"path"`
		Content *string `json:"content"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return argumentMismatch("write_file", err)
	}
	if args.Path == nil || args.Content == nil {
		return argumentMismatch("write_file", errors.New("missing required argument 'path' or 'content'"))
	}
	if d.confirm != nil {
		before, _ := d.ws.ReadFile(*args.Path)
		if !d.confirm(ConfirmRequest{Tool: "write_file", Path: *args.Path, Diff: changePreview(before, *args.Content)}) {
			return failure("Action cancelled by the user.")
		}
	}
	if err := d.ws.WriteFile(*args.Path, *args.Content); err != nil {
		return pathFailure("write_file", *args.Path, err)
	}
	return map[string]any{"success": true, "message": fmt.Sprintf("File '%s' written successfully.", *args.Path)}
}

func (d *Dispatcher) createDirectory(raw string) map[string]any {
	var args struct {
		Path *string `json:"path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return argumentMismatch("create_directory", err)
	}
	if args.Path == nil {
		return argumentMismatch("create_directory", errors.New("missing required argument 'path'"))
	}
	if err := d.ws.CreateDirectory(*args.Path); err != nil {
		return pathFailure("create_directory", *args.Path, err)
	}
	return map[string]any{"success": true, "message": fmt.Sprintf("Directory '%s' created successfully.", *args.Path)}
}

func (d *Dispatcher) deleteFile(raw string) map[string]any {
	var args struct {
		Path *string `json:"path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return argumentMismatch("delete_file", err)
	}
	if args.Path == nil {
		return argumentMismatch("delete_file", errors.New("missing required argument 'path'"))
	}
	if d.confirm != nil {
		before, _ := d.ws.ReadFile(*args.Path)
		if !d.confirm(ConfirmRequest{Tool: "delete_file", Path: *args.Path, Diff: changePreview(before, "")}) {
			return failure("Action cancelled by the user.")
		}
	}
	if err := d.ws.DeleteFile(*args.Path); err != nil {
		return pathFailure("delete_file", *args.Path, err)
	}
	return map[string]any{"success": true, "message": fmt.Sprintf("File '%s' deleted successfully.", *args.Path)}
}

func (d *Dispatcher) applyFileEdit(raw string) map[string]any {
	var args struct {
		Path         *string `json:"path"`
		SearchBlock  *string `json:"search_block"`
		ReplaceBlock *string `json:"replace_block"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return argumentMismatch("apply_file_edit", err)
	}
	if args.Path == nil || args.SearchBlock == nil || args.ReplaceBlock == nil {
		return argumentMismatch("apply_file_edit", errors.New("missing required argument 'path', 'search_block' or 'replace_block'"))
	}
	if d.confirm != nil {
		before, err := d.ws.ReadFile(*args.Path)
		if err != nil {
			return pathFailure("apply_file_edit", *args.Path, err)
		}
		after, _, err := applySearchReplace(before, *args.SearchBlock, *args.ReplaceBlock)
		if err != nil {
			return failure(err.Error())
		}
		if !d.confirm(ConfirmRequest{Tool: "apply_file_edit", Path: *args.Path, Diff: changePreview(before, after)}) {
			return failure("Action cancelled by the user.")
		}
	}
	message, err := d.ws.ApplyEdit(*args.Path, *args.SearchBlock, *args.ReplaceBlock)
	if err != nil {
		if isPatchError(err) {
			return failure(err.Error())
		}
		return pathFailure("apply_file_edit", *args.Path, err)
	}
	return map[string]any{"success": true, "message": message}
}

func isPatchError(err error) bool {
	return errors.Is(err, ErrAmbiguousExact) ||
		errors.Is(err, ErrAmbiguousFuzzy) ||
		errors.Is(err, ErrNoMatch) ||
		errors.Is(err, ErrEmptySearch)
}

// decodeArgs strictly decodes a JSON argument object; unknown fields count
// as an argument mismatch just like missing ones.
func decodeArgs(raw string, dst any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func failure(message string) map[string]any {
	return map[string]any{"success": false, "error": message}
}

func argumentMismatch(tool string, err error) map[string]any {
	return failure(fmt.Sprintf("Argument mismatch for %s: %v", tool, err))
}

// pathFailure phrases workspace errors the way the model expects to see
// them so it can self-correct on the next step.
func pathFailure(tool, path string, err error) map[string]any {
	switch {
	case errors.Is(err, ErrEscapesWorkspace):
		return failure(fmt.Sprintf("Security Error: Path '%s' attempts to access outside the workspace.", path))
	case errors.Is(err, ErrNoWorkspace):
		return failure("Error: Workspace path is not set.")
	case errors.Is(err, ErrBinaryContent):
		return failure(fmt.Sprintf("File '%s' appears to be binary and cannot be read as text.", path))
	case errors.Is(err, ErrNotRegularFile):
		return failure(fmt.Sprintf("File not found or is a directory: '%s'", path))
	case errors.Is(err, fs.ErrNotExist):
		if tool == "list_files" {
			return failure(fmt.Sprintf("Directory not found: '%s'", path))
		}
		return failure(fmt.Sprintf("File not found: '%s'", path))
	default:
		return failure(fmt.Sprintf("Error executing tool %s: %v", tool, err))
	}
}

// changePreview renders a unified-style line diff for confirmation prompts.
func changePreview(before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	src, dst, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(src, dst, false), lines)

	var b strings.Builder
	for _, diff := range diffs {
		prefix := " "
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		text := strings.TrimSuffix(diff.Text, "\n")
		for _, line := range strings.Split(text, "\n") {
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}
