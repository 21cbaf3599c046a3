// Package mcpserver exposes the note assistant as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/query"
)

const conventionsURI = "ansuz://note-conventions"

// Engine is the query side used by the tools.
type Engine interface {
	Resolve(ctx context.Context, raw string) query.Turn
	Continue(ctx context.Context, state *query.Disambiguation, input string) query.Turn
	ListNotes() []ledger.Entry
	ReadNote(id string) (string, error)
	NotesBetween(start, end models.Date) []ledger.Entry
	SemanticSearch(ctx context.Context, text string, k int) ([]query.Candidate, error)
}

// TextSearcher runs keyword search over stored chunks.
type TextSearcher interface {
	SearchText(ctx context.Context, query string, limit int) ([]index.SearchResult, error)
}

// Server wraps the MCP server with the note tools.
type Server struct {
	mcp      *server.MCPServer
	engine   Engine
	searcher TextSearcher
}

// New creates an MCP server with every tool registered.
func New(engine Engine, searcher TextSearcher, version string) *Server {
	s := &Server{engine: engine, searcher: searcher}

	s.mcp = server.NewMCPServer(
		"ansuz",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("ask",
		mcp.WithDescription("Ask a question about the notes collection. Understands note ids, "+
			"'show note <term>', dates ('from 2025-01-02', 'between A and B', 'yesterday'), "+
			"'last week' / 'last N days' and free-form questions. When the answer is a numbered "+
			"choice, pass the returned state to the select tool."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question or command")),
	), s.ask)

	s.mcp.AddTool(mcp.NewTool("select",
		mcp.WithDescription("Answer a pending choice from ask: a number picks a note, p<n> previews it, "+
			"s switches a filename match to semantic search, c cancels."),
		mcp.WithString("state", mcp.Required(), mcp.Description("The state JSON returned by ask")),
		mcp.WithString("input", mcp.Required(), mcp.Description("Selection input")),
	), s.selectCandidate)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id relative to the vault (e.g. journal/2025-01-02.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List ingested notes, optionally only those under a folder."),
		mcp.WithString("folder", mcp.Description("Optional folder prefix")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("notes_by_date",
		mcp.WithDescription("List notes dated within an inclusive range."),
		mcp.WithString("start", mcp.Required(), mcp.Description("First day, YYYY-MM-DD")),
		mcp.WithString("end", mcp.Description("Last day, YYYY-MM-DD; defaults to start")),
	), s.notesByDate)

	s.mcp.AddTool(mcp.NewTool("semantic_search",
		mcp.WithDescription("Find the notes closest in meaning to a text, best first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to match")),
		mcp.WithNumber("limit", mcp.Description("Maximum notes to return")),
	), s.semanticSearch)

	s.mcp.AddTool(mcp.NewTool("search_text",
		mcp.WithDescription("Keyword search through note chunks and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
		mcp.WithNumber("limit", mcp.Description("Maximum results to return")),
	), s.searchText)

	s.mcp.AddResource(
		mcp.NewResource(conventionsURI, "Note Conventions",
			mcp.WithResourceDescription("How note dates, titles and tags are derived."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readConventions,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) ask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return renderTurn(s.engine.Resolve(ctx, q)), nil
}

func (s *Server) selectCandidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("state")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	input, err := req.RequireString("input")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var state query.Disambiguation
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid state: %v", err)), nil
	}
	return renderTurn(s.engine.Continue(ctx, &state, input)), nil
}

func (s *Server) readNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := s.engine.ReadNote(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", apperr.KindOf(err), err)), nil
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) listNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := strings.Trim(req.GetString("folder", ""), "/")

	var lines []string
	for _, e := range s.engine.ListNotes() {
		if folder != "" && !strings.HasPrefix(e.NoteID, folder+"/") {
			continue
		}
		lines = append(lines, entryLine(e))
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("no notes found"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) notesByDate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawStart, err := req.RequireString("start")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	start, err := models.ParseDate(rawStart)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", apperr.KindBadDateFormat, err)), nil
	}
	end := start
	if rawEnd := req.GetString("end", ""); rawEnd != "" {
		if end, err = models.ParseDate(rawEnd); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %s", apperr.KindBadDateFormat, err)), nil
		}
	}
	if end.Before(start) {
		start, end = end, start
	}

	entries := s.engine.NotesBetween(start, end)
	if len(entries) == 0 {
		return mcp.NewToolResultText("no notes in range"), nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, entryLine(e))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) semanticSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.engine.SemanticSearch(ctx, q, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", apperr.KindOf(err), err)), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.searcher.SearchText(ctx, q, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", apperr.KindOf(err), err)), nil
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readConventions(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      conventionsURI,
			MIMEType: "text/markdown",
			Text:     NoteConventions,
		},
	}, nil
}

func entryLine(e ledger.Entry) string {
	date := e.Date.String()
	if date == "" {
		date = "undated"
	}
	return fmt.Sprintf("%s\t%s\t%s", e.NoteID, date, e.Title)
}

// renderTurn turns an engine result into tool output. A pending choice
// carries its state as JSON for the select tool.
func renderTurn(t query.Turn) *mcp.CallToolResult {
	switch t.Kind {
	case query.TurnError:
		msg := fmt.Sprintf("%s: %s", t.Error, t.Message)
		if t.State != nil {
			msg += "\n\n" + stateBlock(t.State)
		}
		return mcp.NewToolResultError(msg)
	case query.TurnCancelled:
		return mcp.NewToolResultText("cancelled")
	case query.TurnNoMatch:
		return mcp.NewToolResultText("no matching notes")
	case query.TurnDisambiguation:
		var b strings.Builder
		if t.Text != "" {
			b.WriteString(t.Text)
			b.WriteString("\n\n")
		}
		for _, c := range t.State.Candidates {
			fmt.Fprintf(&b, "%d. %s", c.Number, c.NoteID)
			if !c.Date.IsZero() {
				fmt.Fprintf(&b, " (%s)", c.Date)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(stateBlock(t.State))
		return mcp.NewToolResultText(b.String())
	default:
		return mcp.NewToolResultText(t.Text)
	}
}

func stateBlock(state *query.Disambiguation) string {
	data, _ := json.Marshal(state)
	return "state: " + string(data)
}
