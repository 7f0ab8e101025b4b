// Package mcp implements the Model Context Protocol server for Rationale
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/CanopyHQ/rationale/internal/corpus"
	"github.com/CanopyHQ/rationale/internal/system"
)

// Version is set by the CLI at startup
var Version = "dev"

// Server implements the MCP protocol over stdio
type Server struct {
	sys     *system.System
	scanner *bufio.Scanner
}

// NewServer creates a new MCP server
func NewServer() (*Server, error) {
	sys, err := system.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize system: %w", err)
	}
	return NewServerWithSystem(sys), nil
}

// NewServerWithSystem wraps an already-wired system
func NewServerWithSystem(sys *system.System) *Server {
	return &Server{
		sys:     sys,
		scanner: bufio.NewScanner(os.Stdin),
	}
}

// Start begins the MCP server loop
func (s *Server) Start() error {
	fmt.Fprintln(os.Stderr, "🔍 Rationale MCP server ready")

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			continue
		}

		var request JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &request); err != nil {
			s.sendError(nil, -32700, "Parse error", err.Error())
			continue
		}

		s.handleRequest(&request)
	}

	return s.scanner.Err()
}

// Stop gracefully shuts down the server
func (s *Server) Stop() {
	if s.sys != nil {
		s.sys.Close()
	}
}

// handleRequest processes a JSON-RPC request
func (s *Server) handleRequest(req *JSONRPCRequest) {
	ctx := context.Background()

	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolCall(ctx, req)
	case "resources/list":
		s.handleResourcesList(req)
	case "resources/read":
		s.handleResourceRead(ctx, req)
	case "prompts/list":
		s.handlePromptsList(req)
	case "prompts/get":
		s.handlePromptsGet(ctx, req)
	default:
		s.sendError(req.ID, -32601, "Method not found", req.Method)
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *JSONRPCRequest) {
	result := map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
			"prompts":   map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "rationale-mcp",
			"version": Version,
		},
	}
	s.sendResult(req.ID, result)
}

// handleToolsList returns available tools
func (s *Server) handleToolsList(req *JSONRPCRequest) {
	tools := []map[string]interface{}{
		{
			"name":        "ask",
			"description": "Ask a causal question about imported dialogue transcripts. Returns an evidence-backed explanation with citations. Pass conversation_id to continue a conversation; follow-up questions are resolved against its history.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The question to answer, e.g. 'Why did the customer escalate?'",
					},
					"conversation_id": map[string]interface{}{
						"type":        "string",
						"description": "Conversation to continue. Omit to start a new one; the response metadata carries the assigned id.",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			"name":        "import_transcripts",
			"description": "Import dialogue transcripts into the span corpus. Accepts a single file (json, csv, or txt) or a directory with an optional glob pattern.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path to a transcript file or a directory of transcript files",
					},
					"pattern": map[string]interface{}{
						"type":        "string",
						"description": "Glob pattern for directory imports (default: *.json)",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			"name":        "search_spans",
			"description": "Search the span corpus directly by semantic similarity, without generating an explanation. Useful for inspecting what evidence exists for a topic.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "What to look for",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of spans to return (default: 10)",
					},
					"event_type": map[string]interface{}{
						"type":        "string",
						"description": "Only return spans annotated with this event type (e.g. 'escalation', 'refund', 'churn')",
					},
					"transcript_id": map[string]interface{}{
						"type":        "string",
						"description": "Only return spans from this transcript",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			"name":        "corpus_stats",
			"description": "Get statistics about the span corpus",
			"inputSchema": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			"name":        "clear_conversation",
			"description": "Delete a conversation's history so the next question starts fresh",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"conversation_id": map[string]interface{}{
						"type":        "string",
						"description": "The conversation to clear",
					},
				},
				"required": []string{"conversation_id"},
			},
		},
	}

	s.sendResult(req.ID, map[string]interface{}{"tools": tools})
}

// handleToolCall executes a tool
func (s *Server) handleToolCall(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	var result interface{}
	var err error

	switch params.Name {
	case "ask":
		result, err = s.toolAsk(ctx, params.Arguments)
	case "import_transcripts":
		result, err = s.toolImportTranscripts(ctx, params.Arguments)
	case "search_spans":
		result, err = s.toolSearchSpans(ctx, params.Arguments)
	case "corpus_stats":
		result, err = s.toolCorpusStats(ctx)
	case "clear_conversation":
		result, err = s.toolClearConversation(ctx, params.Arguments)
	default:
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
		return
	}

	if err != nil {
		s.sendResult(req.ID, map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": fmt.Sprintf("Error: %v", err)},
			},
			"isError": true,
		})
		return
	}

	// Format result as MCP content
	text, _ := json.MarshalIndent(result, "", "  ")
	s.sendResult(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(text)},
		},
	})
}

// Tool implementations

func (s *Server) toolAsk(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("query is required")
	}

	conversationID := ""
	if c, ok := args["conversation_id"].(string); ok {
		conversationID = c
	}

	resp, err := s.sys.Ask(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Server) toolImportTranscripts(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("path is required")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var result system.ImportResult
	if info.IsDir() {
		pattern := ""
		if p, ok := args["pattern"].(string); ok {
			pattern = p
		}
		result, err = s.sys.ImportDir(ctx, path, pattern)
	} else {
		result, err = s.sys.ImportFile(ctx, path)
	}
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":      "imported",
		"transcripts": result.Transcripts,
		"spans":       result.Spans,
		"errors":      result.Errors,
		"message":     fmt.Sprintf("Imported %d transcript(s) as %d span(s)", result.Transcripts, result.Spans),
	}, nil
}

func (s *Server) toolSearchSpans(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("query is required")
	}

	limit := 10
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	var filter *corpus.SearchFilter
	eventType, _ := args["event_type"].(string)
	transcriptID, _ := args["transcript_id"].(string)
	if eventType != "" || transcriptID != "" {
		filter = &corpus.SearchFilter{EventType: eventType, TranscriptID: transcriptID}
	}

	hits, err := s.sys.Store.Search(ctx, query, limit, filter)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]interface{}, len(hits))
	for i, hit := range hits {
		results[i] = map[string]interface{}{
			"span_id":       hit.Span.SpanID,
			"transcript_id": hit.Span.TranscriptID,
			"text":          truncate(hit.Span.Text, 300),
			"turn_ids":      hit.Span.TurnIDs,
			"speakers":      hit.Span.Speakers,
			"similarity":    hit.Similarity,
			"has_event":     hit.HasEvent,
			"event_types":   hit.EventTypes,
		}
	}

	return map[string]interface{}{
		"query": query,
		"count": len(results),
		"spans": results,
	}, nil
}

func (s *Server) toolCorpusStats(ctx context.Context) (interface{}, error) {
	return s.sys.CorpusStats(ctx)
}

func (s *Server) toolClearConversation(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	conversationID, ok := args["conversation_id"].(string)
	if !ok || conversationID == "" {
		return nil, fmt.Errorf("conversation_id is required")
	}

	s.sys.ClearConversation(conversationID)

	return map[string]interface{}{
		"status":          "cleared",
		"conversation_id": conversationID,
		"message":         fmt.Sprintf("Conversation %s has been cleared", conversationID),
	}, nil
}

// handleResourcesList returns available resources
func (s *Server) handleResourcesList(req *JSONRPCRequest) {
	resources := []map[string]interface{}{
		{
			"uri":         "rationale://corpus/stats",
			"name":        "Corpus Statistics",
			"description": "Statistics about the span corpus",
			"mimeType":    "application/json",
		},
	}

	s.sendResult(req.ID, map[string]interface{}{"resources": resources})
}

// handleResourceRead reads a resource
func (s *Server) handleResourceRead(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		URI string `json:"uri"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	var content interface{}
	var err error

	switch params.URI {
	case "rationale://corpus/stats":
		content, err = s.toolCorpusStats(ctx)
	default:
		s.sendError(req.ID, -32602, "Unknown resource", params.URI)
		return
	}

	if err != nil {
		s.sendError(req.ID, -32603, "Internal error", err.Error())
		return
	}

	text, _ := json.MarshalIndent(content, "", "  ")
	s.sendResult(req.ID, map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"uri":      params.URI,
				"mimeType": "application/json",
				"text":     string(text),
			},
		},
	})
}

// handlePromptsList returns available prompts
func (s *Server) handlePromptsList(req *JSONRPCRequest) {
	prompts := []map[string]interface{}{
		{
			"name":        "with_evidence",
			"description": "Enhance your prompt with supporting spans from the transcript corpus",
			"arguments": []map[string]interface{}{
				{
					"name":        "query",
					"description": "Your current question about the transcripts",
					"required":    true,
				},
			},
		},
	}

	s.sendResult(req.ID, map[string]interface{}{"prompts": prompts})
}

// handlePromptsGet returns a prompt with supporting evidence injected
func (s *Server) handlePromptsGet(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	if params.Name != "with_evidence" {
		s.sendError(req.ID, -32602, "Unknown prompt", params.Name)
		return
	}

	query := params.Arguments["query"]
	if query == "" {
		s.sendError(req.ID, -32602, "Missing required argument", "query")
		return
	}

	var evidenceContext string
	hits, err := s.sys.Store.Search(ctx, query, 5, nil)
	if err == nil && len(hits) > 0 {
		evidenceContext = "Supporting transcript spans:\n"
		for _, hit := range hits {
			evidenceContext += fmt.Sprintf("- [%s] %s\n", hit.Span.SpanID, truncate(hit.Span.Text, 300))
		}
		evidenceContext += "\n"
	}

	messages := []map[string]interface{}{
		{
			"role": "user",
			"content": map[string]interface{}{
				"type": "text",
				"text": evidenceContext + query,
			},
		},
	}

	s.sendResult(req.ID, map[string]interface{}{
		"description": "Query enhanced with supporting evidence",
		"messages":    messages,
	})
}

// JSON-RPC types and helpers

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (s *Server) sendResult(id interface{}, result interface{}) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	data, _ := json.Marshal(resp)
	fmt.Println(string(data))
}

func (s *Server) sendError(id interface{}, code int, message, data string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	respData, _ := json.Marshal(resp)
	fmt.Println(string(respData))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
