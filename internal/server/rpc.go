package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/coursebridge/coursebridge/internal/metrics"
	"github.com/coursebridge/coursebridge/internal/tools"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// maxRequestBytes bounds a single RPC body.
const maxRequestBytes = 1 << 20

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments tools.Arguments `json:"arguments"`
}

// rpcHandler answers JSON-RPC 2.0 tool traffic over a single POST route.
type rpcHandler struct {
	registry *tools.Registry
	logger   *slog.Logger
}

// NewHandler assembles the process routes: the RPC endpoint, a liveness
// probe, and the Prometheus scrape surface.
func NewHandler(registry *tools.Registry, rec *metrics.Recorder, logger *slog.Logger) http.Handler {
	rpc := &rpcHandler{
		registry: registry,
		logger:   logger.With(slog.String("component", "rpc")),
	}

	mux := http.NewServeMux()
	mux.Handle("POST /rpc", rpc)
	mux.Handle("/metrics", rec.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func (h *rpcHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := uuid.NewString()
	logger := h.logger.With(slog.String("correlation_id", correlationID))
	w.Header().Set("X-Correlation-Id", correlationID)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeResponse(w, errorResponse(nil, codeParseError, "unable to read request body"))
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		logger.Warn("rpc body did not parse", slog.Any("error", err))
		writeResponse(w, errorResponse(nil, codeParseError, "invalid JSON"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeResponse(w, errorResponse(req.ID, codeInvalidRequest, "not a JSON-RPC 2.0 request"))
		return
	}

	logger = logger.With(slog.String("method", req.Method))

	switch req.Method {
	case "tools/list":
		writeResponse(w, resultResponse(req.ID, map[string]any{"tools": h.registry.List()}))

	case "tools/call":
		var params callParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			writeResponse(w, errorResponse(req.ID, codeInvalidParams, "params require a tool name"))
			return
		}
		result, err := h.registry.Call(r.Context(), params.Name, params.Arguments)
		switch {
		case errors.Is(err, tools.ErrUnknownTool):
			writeResponse(w, errorResponse(req.ID, codeMethodNotFound, err.Error()))
		case err != nil:
			writeResponse(w, errorResponse(req.ID, codeInvalidParams, err.Error()))
		default:
			logger.Info("tool call served", slog.String("tool", params.Name))
			writeResponse(w, resultResponse(req.ID, result))
		}

	default:
		writeResponse(w, errorResponse(req.ID, codeMethodNotFound, "unknown method "+req.Method))
	}
}

func resultResponse(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: normalizeID(id), Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: normalizeID(id), Error: &rpcError{Code: code, Message: message}}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func writeResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
	}
}
