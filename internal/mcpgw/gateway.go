// Package mcpgw is the agent-facing MCP (Model Context Protocol)
// surface, JSON-RPC 2.0 over HTTP.
//
// Exactly one tool is ever advertised. Individual pipeline stages are
// not tools; agents pass free-text and the facade decides where the
// task goes. The discovery layer is the enforcement point.
package mcpgw

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thirdeye-labs/overseer/internal/api/middleware"
	"github.com/thirdeye-labs/overseer/internal/facade"
	"github.com/thirdeye-labs/overseer/internal/sessions"
	"github.com/thirdeye-labs/overseer/pkg/models"
)

// ToolName is the single advertised operation.
const ToolName = "overseer_run"

// Gateway exposes the facade as an MCP server.
type Gateway struct {
	facade *facade.Facade
}

// NewGateway creates an MCP gateway in front of the facade.
func NewGateway(f *facade.Facade) *Gateway {
	return &Gateway{facade: f}
}

// HandleJSONRPC processes one MCP JSON-RPC 2.0 request. A nil response
// means the request was a notification.
func (gw *Gateway) HandleJSONRPC(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	switch req.Method {

	// ── Discovery ────────────────────────────────────
	case "initialize":
		return gw.handleInitialize(req)

	case "tools/list":
		return gw.handleToolsList(req)

	// ── Tool Invocation ──────────────────────────────
	case "tools/call":
		return gw.handleToolsCall(ctx, req)

	// ── Notifications (no response) ──────────────────
	case "notifications/initialized":
		log.Debug().Msg("MCP client initialized")
		return nil

	case "ping":
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Result:  map[string]string{"status": "pong"},
			ID:      req.ID,
		}

	default:
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Error: &models.MCPError{
				Code:    -32601,
				Message: "Method not found",
				Data:    fmt.Sprintf("Method '%s' is not supported", req.Method),
			},
			ID: req.ID,
		}
	}
}

func (gw *Gateway) handleInitialize(req *models.MCPRequest) *models.MCPResponse {
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]bool{
					"listChanged": false,
				},
			},
			"serverInfo": map[string]string{
				"name":    "overseer",
				"version": "0.1.0",
			},
		},
		ID: req.ID,
	}
}

// handleToolsList advertises the single entry point. The tool list is
// static; nothing here consults the pipeline topology.
func (gw *Gateway) handleToolsList(req *models.MCPRequest) *models.MCPResponse {
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Result: map[string]interface{}{
			"tools": []models.MCPToolInfo{{
				Name:        ToolName,
				Description: "Submit a task for staged verification. The service decides which review steps apply; call repeatedly with the same session to continue a workflow.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"task": map[string]interface{}{
							"type":        "string",
							"description": "The task, question, or content to verify",
						},
						"session_id": map[string]interface{}{
							"type":        "string",
							"description": "Existing session to continue (optional)",
						},
						"identity": map[string]interface{}{
							"type":        "string",
							"description": "Stable caller identity for session reuse (optional)",
						},
					},
					"required": []string{"task"},
				},
			}},
		},
		ID: req.ID,
	}
}

func (gw *Gateway) handleToolsCall(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	var params models.MCPToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Error: &models.MCPError{
				Code:    -32602,
				Message: "Invalid params",
				Data:    err.Error(),
			},
			ID: req.ID,
		}
	}

	if params.Name != ToolName {
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Error: &models.MCPError{
				Code:    -32001,
				Message: "Tool not found",
				Data:    fmt.Sprintf("Tool '%s' is not available", params.Name),
			},
			ID: req.ID,
		}
	}

	task, _ := params.Arguments["task"].(string)
	sessionID, _ := params.Arguments["session_id"].(string)
	identity, _ := params.Arguments["identity"].(string)
	if identity == "" {
		// Fall back to the transport-level identity the middleware
		// extracted from the request headers.
		identity = middleware.GetIdentity(ctx)
	}

	result := gw.facade.Run(ctx, facade.RunRequest{
		Task: task,
		SessionHint: sessions.ResolveHint{
			SessionID: sessionID,
			Identity:  identity,
			Tenant:    middleware.GetTenant(ctx),
		},
	})

	body, err := json.Marshal(result)
	if err != nil {
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Error: &models.MCPError{
				Code:    -32603,
				Message: "Internal error",
			},
			ID: req.ID,
		}
	}

	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Result: models.MCPToolResult{
			Content: []models.MCPContent{{
				Type: "text",
				Text: string(body),
			}},
			IsError: result.Verdict == facade.VerdictRejected,
		},
		ID: req.ID,
	}
}
