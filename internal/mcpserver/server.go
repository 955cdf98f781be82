// Package mcpserver exposes PDF form detection as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/sells-group/form-detector/internal/fetcher"
	"github.com/sells-group/form-detector/internal/formprobe"
	"github.com/sells-group/form-detector/internal/model"
	"github.com/sells-group/form-detector/internal/report"
	"github.com/sells-group/form-detector/internal/urllist"
)

// Runner processes a whole URL batch. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, urls []string) *model.Run
}

// Server wraps the MCP server and its tool handlers.
type Server struct {
	runner    Runner
	fetcher   fetcher.Fetcher
	maxURLs   int
	mcpServer *server.MCPServer

	// runMu keeps analyze calls from overlapping; batches run one at a time.
	runMu sync.Mutex
}

// New creates the MCP server and registers its tools.
func New(name, version string, runner Runner, f fetcher.Fetcher, maxURLs int) *Server {
	s := &Server{
		runner:  runner,
		fetcher: f,
		maxURLs: maxURLs,
		mcpServer: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(false),
		),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	analyzeTool := mcp.NewTool(
		"analyze_pdf_urls",
		mcp.WithDescription("Download each PDF and classify it as an interactive fillable form or a read-only document. URLs are processed one at a time, in order."),
		mcp.WithString("urls",
			mcp.Required(),
			mcp.Description("PDF URLs separated by newlines or commas. Only http:// and https:// URLs are used."),
		),
	)
	s.mcpServer.AddTool(analyzeTool, s.handleAnalyze)

	probeTool := mcp.NewTool(
		"probe_pdf_url",
		mcp.WithDescription("Download one PDF and report its declared AcroForm fields, XFA presence and page count without calling the classifier"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("PDF URL"),
		),
	)
	s.mcpServer.AddTool(probeTool, s.handleProbe)
}

// Serve blocks serving MCP over stdin/stdout.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

type analyzeResult struct {
	RunID string       `json:"run_id"`
	Stats model.Stats  `json:"stats"`
	Rows  []report.Row `json:"rows"`
}

func (s *Server) handleAnalyze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("urls")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	urls, err := urllist.ParseAndValidate(text, s.maxURLs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.runMu.Lock()
	run := s.runner.Run(ctx, urls)
	s.runMu.Unlock()

	out, err := json.MarshalIndent(analyzeResult{
		RunID: run.ID,
		Stats: run.Stats(),
		Rows:  report.Rows(run.Items),
	}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) handleProbe(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	doc, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rep, err := formprobe.Probe(doc.Data)
	if err != nil {
		zap.L().Debug("mcpserver: probe failed", zap.String("url", url), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("could not read PDF structure of %s: %v", doc.Filename, err)), nil
	}

	responseText := fmt.Sprintf("File: %s\n", doc.Filename)
	responseText += fmt.Sprintf("Size: %d bytes\n", len(doc.Data))
	responseText += fmt.Sprintf("Pages: %d\n", rep.Pages)
	responseText += fmt.Sprintf("AcroForm fields: %d\n", rep.AcroFormFields)
	responseText += fmt.Sprintf("XFA form: %t\n", rep.HasXFA)
	responseText += fmt.Sprintf("Declares interactive fields: %t\n", rep.Interactive())
	return mcp.NewToolResultText(responseText), nil
}
