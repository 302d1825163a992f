package control

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/gen4eva/kit"
)

// RegisterMCP registers the control tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	noArgs := inputSchema(map[string]any{}, nil)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "gen4eva_status",
		Description: "Report forever mode, auto-save, watcher tiers and journal counters.",
		InputSchema: noArgs,
	}, s.status, kit.NoArgs)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "gen4eva_toggle",
		Description: "Flip forever mode between idle and armed, exactly as the page toggle does.",
		InputSchema: noArgs,
	}, s.toggle, kit.NoArgs)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "gen4eva_autosave",
		Description: "Flip auto-save: click the save control before every generate click.",
		InputSchema: noArgs,
	}, s.autoSave, kit.NoArgs)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "gen4eva_reinit",
		Description: "Force a re-bootstrap (resets forever mode to idle). Use when the page toggles went missing.",
		InputSchema: noArgs,
	}, s.reinit, kit.NoArgs)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "gen4eva_activity",
		Description: "List recent journaled activity, newest first.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max entries (default 50, max 1000)"},
			"kind":  map[string]any{"type": "string", "description": "Only this kind, e.g. click_generate or recovery"},
		}, nil),
	}, s.activity, decodeActivityArgs)
}

func decodeActivityArgs(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r ActivityRequest
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
