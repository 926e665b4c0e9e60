// Package rpc is the JSON-RPC front door: it decodes initialize, tools/list
// and tools/call envelopes, hands tool calls to the dispatcher and encodes
// every outcome, including panics, as a well-formed response.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bobmcallan/toolgate/internal/common"
	"github.com/bobmcallan/toolgate/internal/dispatch"
	"github.com/bobmcallan/toolgate/internal/upstream"
)

// Executor runs one tool call. *dispatch.Dispatcher implements it.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) dispatch.Result
}

// Info identifies the gateway in initialize responses.
type Info struct {
	Name         string
	Version      string
	Instructions string
}

// Handler answers JSON-RPC envelopes. It holds no per-call state and is
// safe for concurrent use.
type Handler struct {
	exec   Executor
	info   Info
	logger *common.Logger

	// Rendered once so tools/list is byte-identical on every call.
	toolsList json.RawMessage

	overrideHeader string
	baseURLHeader  string
	maxBodyBytes   int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithOverrideHeaders names the inbound HTTP headers that override the
// upstream credential and base URL for one call.
func WithOverrideHeaders(auth, baseURL string) Option {
	return func(h *Handler) {
		h.overrideHeader = auth
		h.baseURLHeader = baseURL
	}
}

// WithMaxBodyBytes caps an inbound message.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandler builds a front door over exec for the given catalog.
func NewHandler(exec Executor, catalog []dispatch.Descriptor, info Info, logger *common.Logger, opts ...Option) (*Handler, error) {
	h := &Handler{
		exec:         exec,
		info:         info,
		logger:       logger,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}

	list, err := renderToolsList(catalog)
	if err != nil {
		return nil, err
	}
	h.toolsList = list
	return h, nil
}

// renderToolsList converts the catalog into the tools/list result.
func renderToolsList(catalog []dispatch.Descriptor) (json.RawMessage, error) {
	tools := make([]mcp.Tool, 0, len(catalog))
	for _, d := range catalog {
		tools = append(tools, BuildTool(d))
	}
	b, err := json.Marshal(mcp.ListToolsResult{Tools: tools})
	if err != nil {
		return nil, fmt.Errorf("failed to render tool catalog: %w", err)
	}
	return b, nil
}

// BuildTool converts a descriptor into its catalog entry. Annotations are
// derived from the HTTP method.
func BuildTool(d dispatch.Descriptor) mcp.Tool {
	schemaJSON, err := json.Marshal(d.Schema.JSONSchema())
	if err != nil {
		schemaJSON = []byte(`{"type":"object"}`)
	}
	tool := mcp.NewToolWithRawSchema(d.Name, d.Description, schemaJSON)

	readOnly := !d.Operation.Mutating()
	idempotent := readOnly || d.Operation.Method == http.MethodPut || d.Operation.Method == http.MethodDelete
	destructive := d.Operation.Method == http.MethodDelete
	openWorld := true
	tool.Annotations = mcp.ToolAnnotation{
		ReadOnlyHint:    &readOnly,
		DestructiveHint: &destructive,
		IdempotentHint:  &idempotent,
		OpenWorldHint:   &openWorld,
	}
	return tool
}

// HandleMessage answers one raw envelope. It returns nil for notifications.
func (h *Handler) HandleMessage(ctx context.Context, raw []byte) (out []byte) {
	var req Request
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Str("method", req.Method).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("rpc handler panicked")
			out = h.encode(errorResponse(req.ID, CodeInternalError, "internal error", nil))
		}
	}()

	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return h.encode(errorResponse(nil, CodeParseError, "parse error", nil))
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return h.encode(errorResponse(nil, CodeInvalidRequest, "invalid request: expected a single JSON-RPC object", nil))
	}
	if !validID(req.ID) {
		id := req.ID
		req.ID = nil
		return h.encode(errorResponse(nil, CodeInvalidRequest, "invalid request: id must be a string, number or null", string(id)))
	}
	if req.Method == "" {
		return h.encode(errorResponse(req.ID, CodeInvalidRequest, "invalid request: method is required", nil))
	}
	if req.JSONRPC != "" && req.JSONRPC != mcp.JSONRPC_VERSION {
		return h.encode(errorResponse(req.ID, CodeInvalidRequest, fmt.Sprintf("invalid request: unsupported jsonrpc version %q", req.JSONRPC), nil))
	}

	if req.IsNotification() {
		h.logger.Debug().Str("method", req.Method).Msg("rpc notification")
		return nil
	}

	return h.encode(h.handle(ctx, req))
}

func (h *Handler) handle(ctx context.Context, req Request) Response {
	switch mcp.MCPMethod(req.Method) {
	case mcp.MethodInitialize:
		return h.handleInitialize(req)
	case mcp.MethodPing:
		return resultResponse(req.ID, json.RawMessage(`{}`))
	case mcp.MethodToolsList:
		return resultResponse(req.ID, h.toolsList)
	case mcp.MethodToolsCall:
		return h.handleToolsCall(ctx, req)
	}
	h.logger.Debug().Str("method", req.Method).Msg("rpc method not found")
	return errorResponse(req.ID, CodeMethodNotFound, "method not found: "+req.Method, nil)
}

func (h *Handler) handleInitialize(req Request) Response {
	var params initializeParams
	if len(req.Params) > 0 && string(req.Params) != "null" {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid initialize params: "+err.Error(), nil)
		}
	}

	version := params.ProtocolVersion
	if version == "" {
		version = mcp.LATEST_PROTOCOL_VERSION
	}
	h.logger.Info().
		Str("client", params.ClientInfo.Name).
		Str("client_version", params.ClientInfo.Version).
		Str("protocol_version", version).
		Msg("rpc initialize")

	result, err := json.Marshal(initializeResult{
		ProtocolVersion: version,
		Capabilities:    capabilities{Tools: toolsCapability{ListChanged: false}},
		ServerInfo:      mcp.Implementation{Name: h.info.Name, Version: h.info.Version},
		Instructions:    h.info.Instructions,
	})
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, "internal error", nil)
	}
	return resultResponse(req.ID, result)
}

func (h *Handler) handleToolsCall(ctx context.Context, req Request) Response {
	params, err := decodeCallParams(req.Params)
	if err != nil {
		return errorResponse(req.ID, CodeInvalidParams, err.Error(), nil)
	}

	if upstream.CorrelationIDFromContext(ctx) == "" {
		ctx = upstream.WithCorrelationID(ctx, uuid.New().String())
	}

	res := h.exec.Execute(ctx, params.Name, params.Arguments)
	if !res.OK {
		toolErr := res.Error
		if toolErr == nil {
			toolErr = &dispatch.ToolError{Kind: dispatch.KindInternal, Message: "tool failed without an error"}
		}
		return errorResponse(req.ID, CodeInternalError, toolErr.Message, toolErr)
	}

	result, err := encodeToolResult(res.Data)
	if err != nil {
		h.logger.Error().Str("tool", params.Name).Err(err).Msg("failed to encode tool result")
		return errorResponse(req.ID, CodeInternalError, "failed to encode tool result",
			&dispatch.ToolError{Kind: dispatch.KindInternal, Message: err.Error()})
	}
	return resultResponse(req.ID, result)
}

// decodeCallParams reads {name, arguments}. Numbers stay json.Number so the
// validator sees the caller's exact digits.
func decodeCallParams(raw json.RawMessage) (callParams, error) {
	var params callParams
	if len(raw) == 0 || string(raw) == "null" {
		return params, errors.New("invalid params: tools/call requires name")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return params, fmt.Errorf("invalid params: %v", err)
	}
	if params.Name == "" {
		return params, errors.New("invalid params: tools/call requires name")
	}
	return params, nil
}

// encodeToolResult wraps data as a CallToolResult: JSON text content, plus
// structured content when data is a JSON object.
func encodeToolResult(data any) (json.RawMessage, error) {
	text, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	result := mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(text))},
	}
	if trimmed := bytes.TrimSpace(text); len(trimmed) > 0 && trimmed[0] == '{' {
		result.StructuredContent = json.RawMessage(text)
	}
	return json.Marshal(result)
}

func (h *Handler) encode(resp Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode rpc response")
		fallback, _ := json.Marshal(errorResponse(resp.ID, CodeInternalError, "internal error", nil))
		return fallback
	}
	return b
}
