// Package mcpserver exposes the curation pipeline as MCP tools over stdio,
// so agent frontends can drive the same intents as the HTTP surface.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chatscrub/chatscrub/internal/archive"
	"github.com/chatscrub/chatscrub/internal/export"
	"github.com/chatscrub/chatscrub/internal/llm"
	"github.com/chatscrub/chatscrub/internal/scan"
	"github.com/chatscrub/chatscrub/internal/store"
)

// Server wraps the store and scan runner behind MCP tools.
type Server struct {
	store  *store.Store
	runner *scan.Runner
	mcp    *server.MCPServer
}

func New(st *store.Store, runner *scan.Runner, version string) *Server {
	s := &Server{
		store:  st,
		runner: runner,
		mcp:    server.NewMCPServer("chatscrub", version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving MCP requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(
		mcp.NewTool("load_archive",
			mcp.WithDescription("Load a chat-export archive (conversations.json) and run local sensitive-data detection."),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the export JSON file.")),
		),
		s.loadArchive,
	)
	s.mcp.AddTool(
		mcp.NewTool("list_conversations",
			mcp.WithDescription("List the loaded conversations with their messages and flags."),
		),
		s.listConversations,
	)
	s.mcp.AddTool(
		mcp.NewTool("delete_conversation",
			mcp.WithDescription("Delete an entire conversation. Irreversible."),
			mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation to delete.")),
		),
		s.deleteConversation,
	)
	s.mcp.AddTool(
		mcp.NewTool("toggle_message_deletion",
			mcp.WithDescription("Flip a message's deletion mark (delete/restore)."),
			mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Owning conversation.")),
			mcp.WithString("message_id", mcp.Required(), mcp.Description("Message to toggle.")),
		),
		s.toggleMessageDeletion,
	)
	s.mcp.AddTool(
		mcp.NewTool("list_sensitive",
			mcp.WithDescription("List every message currently flagged as sensitive, with reasons."),
		),
		s.listSensitive,
	)
	s.mcp.AddTool(
		mcp.NewTool("delete_all_sensitive",
			mcp.WithDescription("Mark every flagged message for deletion."),
		),
		s.deleteAllSensitive,
	)
	s.mcp.AddTool(
		mcp.NewTool("deep_scan",
			mcp.WithDescription("Run the remote batch classifier over all eligible messages. May take minutes."),
			mcp.WithString("api_key", mcp.Description("Optional API key overriding the configured one.")),
			mcp.WithNumber("timeout_seconds", mcp.Description("Optional overall scan timeout overriding the configured one.")),
		),
		s.deepScan,
	)
	s.mcp.AddTool(
		mcp.NewTool("stats",
			mcp.WithDescription("Report total, marked-for-deletion and sensitive message counts."),
		),
		s.stats,
	)
	s.mcp.AddTool(
		mcp.NewTool("export_transcript",
			mcp.WithDescription("Export the curated conversations as flat text, omitting messages marked for deletion."),
			mcp.WithString("path", mcp.Description("Optional file path to write the transcript to.")),
		),
		s.exportTranscript,
	)
}

func (s *Server) loadArchive(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError("read archive: " + err.Error()), nil
	}
	conversations, err := archive.Parse(data)
	if err != nil {
		return mcp.NewToolResultError("No conversations found in file. Please check the format."), nil
	}
	s.store.Load(conversations)
	annotated := s.store.ApplyLocalDetection()
	return mcp.NewToolResultText(fmt.Sprintf(
		"Loaded %d conversations; local detection annotated %d messages.", len(conversations), annotated)), nil
}

func (s *Server) listConversations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.store.Conversations())
}

func (s *Server) deleteConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.DeleteConversation(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Conversation deleted: " + id), nil
}

func (s *Server) toggleMessageDeletion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	convID, err := req.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msgID, err := req.RequireString("message_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	marked, err := s.store.ToggleMessageDeletion(convID, msgID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if marked {
		return mcp.NewToolResultText("Message marked for deletion."), nil
	}
	return mcp.NewToolResultText("Message restored."), nil
}

func (s *Server) listSensitive(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.store.SensitiveMessages())
}

func (s *Server) deleteAllSensitive(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	marked := s.store.MarkSensitiveForDeletion()
	return mcp.NewToolResultText(fmt.Sprintf("Marked %d sensitive messages for deletion.", marked)), nil
}

func (s *Server) deepScan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sum, err := s.runner.Run(ctx, req.GetString("api_key", ""), req.GetInt("timeout_seconds", 0))
	switch {
	case errors.Is(err, scan.ErrScanInFlight):
		return mcp.NewToolResultError("A scan is already running."), nil
	case errors.Is(err, llm.ErrMissingCredential):
		return mcp.NewToolResultError("OpenAI API key missing."), nil
	case err != nil:
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Scan complete: %d messages submitted in %d batches (%d failed).",
		sum.Submitted, sum.Batches, sum.FailedBatches)), nil
}

func (s *Server) stats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.store.Stats())
}

func (s *Server) exportTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := export.Render(export.Filter(s.store.Conversations()))
	if path := req.GetString("path", ""); path != "" {
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			return mcp.NewToolResultError("write transcript: " + err.Error()), nil
		}
		return mcp.NewToolResultText("Transcript written to " + path), nil
	}
	return mcp.NewToolResultText(text), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("encode result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
