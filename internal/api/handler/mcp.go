package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/papershelf/internal/api/middleware"
	"github.com/timmy/papershelf/internal/prompts"
	"github.com/timmy/papershelf/internal/tools"
)

// ProtocolVersion is the tool protocol revision reported by initialize.
const ProtocolVersion = "2025-03-26"

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// ToolRegistry lists and dispatches tools.
type ToolRegistry interface {
	Definitions() []tools.Definition
	Call(ctx context.Context, name string, args json.RawMessage) (*tools.Result, error)
}

// ServerInfo identifies the server in the initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type promptMessage struct {
	Role    string        `json:"role"`
	Content tools.Content `json:"content"`
}

// MCPHandler serves the JSON-RPC tool protocol on POST /mcp.
type MCPHandler struct {
	registry ToolRegistry
	info     ServerInfo
}

// NewMCPHandler creates a new tool protocol handler.
func NewMCPHandler(registry ToolRegistry, info ServerInfo) *MCPHandler {
	return &MCPHandler{registry: registry, info: info}
}

// Handle processes one JSON-RPC message. Notifications get 202 with no body.
func (h *MCPHandler) Handle(c *gin.Context) {
	var req rpcRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: &rpcError{Code: codeParseError, Message: "Parse error: " + err.Error()}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		c.JSON(http.StatusOK, h.fail(req.ID, codeInvalidRequest, "Invalid request"))
		return
	}
	if len(req.ID) == 0 {
		c.Status(http.StatusAccepted)
		return
	}

	ctx := c.Request.Context()
	var resp rpcResponse
	switch req.Method {
	case "initialize":
		resp = h.ok(req.ID, gin.H{
			"protocolVersion": ProtocolVersion,
			"capabilities": gin.H{
				"tools":   gin.H{"listChanged": false},
				"prompts": gin.H{"listChanged": false},
			},
			"serverInfo": h.info,
		})
	case "ping":
		resp = h.ok(req.ID, gin.H{})
	case "tools/list":
		resp = h.ok(req.ID, gin.H{"tools": h.registry.Definitions()})
	case "tools/call":
		resp = h.callTool(ctx, req)
	case "prompts/list":
		resp = h.ok(req.ID, gin.H{"prompts": prompts.List()})
	case "prompts/get":
		resp = h.getPrompt(req)
	default:
		resp = h.fail(req.ID, codeMethodNotFound, "Method not found: "+req.Method)
	}

	if resp.Error != nil {
		middleware.GetLogger(c).WithField("method", req.Method).WithField("code", resp.Error.Code).Warn(resp.Error.Message)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *MCPHandler) callTool(ctx context.Context, req rpcRequest) rpcResponse {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return h.fail(req.ID, codeInvalidParams, "tools/call requires a tool name")
	}

	result, err := h.registry.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, tools.ErrUnknownTool) {
			return h.fail(req.ID, codeInvalidParams, err.Error())
		}
		return h.ok(req.ID, &tools.Result{Content: []tools.Content{{Type: "text", Text: "Error: " + err.Error()}}, IsError: true})
	}
	return h.ok(req.ID, result)
}

func (h *MCPHandler) getPrompt(req rpcRequest) rpcResponse {
	var params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return h.fail(req.ID, codeInvalidParams, "prompts/get requires a prompt name")
	}

	text, err := prompts.Render(params.Name, params.Arguments)
	if err != nil {
		return h.fail(req.ID, codeInvalidParams, err.Error())
	}
	p, _ := prompts.Get(params.Name)
	return h.ok(req.ID, gin.H{
		"description": p.Description,
		"messages": []promptMessage{
			{Role: "user", Content: tools.Content{Type: "text", Text: text}},
		},
	})
}

func (h *MCPHandler) ok(id json.RawMessage, result interface{}) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func (h *MCPHandler) fail(id json.RawMessage, code int, msg string) rpcResponse {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}
