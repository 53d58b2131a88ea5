// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes nbtag tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/nbtag/internal/kernel"
	"github.com/starford/nbtag/internal/nbservice"
	"github.com/starford/nbtag/internal/session"
)

const directivesURI = "nbtag://directives"

// Server wraps the MCP server with nbtag tools.
type Server struct {
	mcp      *server.MCPServer
	svc      *nbservice.Service
	sessions *session.Manager
}

// New creates a new MCP server with all nbtag tools registered.
func New(svc *nbservice.Service, sessions *session.Manager, version string) *Server {
	s := &Server{svc: svc, sessions: sessions}

	s.mcp = server.NewMCPServer(
		"nbtag",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notebooks",
		mcp.WithDescription("List workspace notebooks, optionally only those with a block carrying a tag."),
		mcp.WithString("tag", mcp.Description("Optional tag filter")),
	), s.listNotebooks)

	s.mcp.AddTool(mcp.NewTool("read_notebook",
		mcp.WithDescription("Read a notebook as its ordered blocks with their resolved tags."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the notebook (e.g. flows/etl.ipynb)")),
	), s.readNotebook)

	s.mcp.AddTool(mcp.NewTool("notebook_tags",
		mcp.WithDescription("List the distinct tags of one notebook, or of the whole workspace with block counts when path is empty."),
		mcp.WithString("path", mcp.Description("Optional notebook path")),
	), s.notebookTags)

	s.mcp.AddTool(mcp.NewTool("find_tag",
		mcp.WithDescription("Locate every block carrying a tag across the workspace."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag to look up")),
	), s.findTag)

	s.mcp.AddTool(mcp.NewTool("search_notebooks",
		mcp.WithDescription("Full-text search through notebook titles, tags and block sources."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotebooks)

	s.mcp.AddTool(mcp.NewTool("run_notebook",
		mcp.WithDescription("Run the blocks of a notebook selected by tag in its live session and return their output. "+
			"The session namespace persists between calls. Read the tagging contract first via "+
			"the get_directive_contract tool or the "+directivesURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the notebook")),
		mcp.WithString("mode", mcp.Description("Selection mode"), mcp.Enum("all", "tag", "before", "after")),
		mcp.WithString("tag", mcp.Description("Tag for the tag, before and after modes")),
		mcp.WithString("exclude", mcp.Description("Comma-separated tags left out of an all run")),
		mcp.WithBoolean("strict", mcp.Description("Fail when no block carries the tag")),
	), s.runNotebook)

	s.mcp.AddTool(mcp.NewTool("get_directive_contract",
		mcp.WithDescription("Returns the nbtag tagging contract: how headings, fence words and "+
			"##block/##lastblock directives tag blocks, and how runs select them."),
	), s.getDirectiveContract)

	s.mcp.AddTool(mcp.NewTool("import_notebook",
		mcp.WithDescription("Download a notebook from an http(s) URL or a base64 data URI into the workspace."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data: URI of a .ipynb or .md file")),
		mcp.WithString("filename", mcp.Description("Target file name; derived from the URL when empty")),
		mcp.WithString("dir", mcp.Description("Workspace directory to save into")),
	), s.importNotebook)

	// Resource: tagging contract.
	s.mcp.AddResource(
		mcp.NewResource(directivesURI, "Tagging Contract",
			mcp.WithResourceDescription("How nbtag derives block tags and selects blocks to run."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDirectivesResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listNotebooks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, _, err := s.svc.ListNotebooks(ctx, 1000, 0, req.GetString("tag", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no notebooks found"), nil
	}
	paths := make([]string, len(items))
	for i, it := range items {
		paths[i] = it.Path
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nb, err := s.svc.GetNotebook(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", path, err)), nil
	}
	return jsonResult(nb)
}

func (s *Server) notebookTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		counts, err := s.svc.Tags(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(counts)
	}
	nb, err := s.svc.GetNotebook(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", path, err)), nil
	}
	if len(nb.Tags) == 0 {
		return mcp.NewToolResultText("no tags found"), nil
	}
	return mcp.NewToolResultText(strings.Join(nb.Tags, "\n")), nil
}

func (s *Server) findTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	refs, err := s.svc.FindTag(ctx, tag)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(refs)
}

func (s *Server) searchNotebooks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) runNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	run := session.Request{
		Mode:   session.Mode(req.GetString("mode", string(session.ModeAll))),
		Tag:    req.GetString("tag", ""),
		Strict: req.GetBool("strict", false),
	}
	for _, t := range strings.Split(req.GetString("exclude", ""), ",") {
		if t = strings.TrimSpace(t); t != "" {
			run.Exclude = append(run.Exclude, t)
		}
	}

	res, err := s.sessions.Run(ctx, path, run)
	if err != nil {
		var execErr *kernel.ExecutionError
		if errors.As(err, &execErr) && execErr.Backtrace != "" {
			return mcp.NewToolResultError(fmt.Sprintf("%s%v\n%s", res.Output, err, execErr.Backtrace)), nil
		}
		return mcp.NewToolResultError(res.Output + err.Error()), nil
	}
	if res.Output == "" {
		return mcp.NewToolResultText(fmt.Sprintf("ran %s (%s) with no output", path, res.Mode)), nil
	}
	return mcp.NewToolResultText(res.Output), nil
}

func (s *Server) getDirectiveContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DirectiveContract), nil
}

func (s *Server) readDirectivesResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      directivesURI,
			MIMEType: "text/markdown",
			Text:     DirectiveContract,
		},
	}, nil
}
