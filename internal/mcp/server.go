// Package mcp exposes the resistance engines as Model Context Protocol tools.
package mcp

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/service"
)

// Tool names.
const (
	ToolComputeKelim     = "compute_kelim"
	ToolAssessResistance = "assess_resistance"
	ToolClassifyVariant  = "classify_variant"
	ToolLookupGuidelines = "lookup_guidelines"
)

// Dependencies are the services the tools call.
type Dependencies struct {
	Prophet    *service.ProphetService
	Variants   *service.VariantService
	Guidelines *service.GuidelineService
}

// Server represents the resistance MCP server implementation
type Server struct {
	mcpServer *mcp.Server
	deps      Dependencies
	logger    *logrus.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(cfg domain.MCPConfig, deps Dependencies, logger *logrus.Logger) *Server {
	name := cfg.ServerName
	if name == "" {
		name = "resistance-prophet"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "1.0.0"
	}

	serverInfo := &mcp.Implementation{
		Name:    name,
		Version: version,
	}

	s := &Server{
		mcpServer: mcp.NewServer(serverInfo, nil),
		deps:      deps,
		logger:    logger,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolComputeKelim,
		Description: "Fit the CA-125 elimination rate constant (KELIM) over the first 100 days of a regimen and categorize it as FAVORABLE, INTERMEDIATE or UNFAVORABLE.",
	}, s.handleComputeKelim)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolAssessResistance,
		Description: "Fuse CA-125 kinetics, DNA-repair restoration and pathway escape into a HIGH/MEDIUM/LOW resistance risk. Pass patient_id to assess a stored profile and record the result.",
	}, s.handleAssessResistance)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolClassifyVariant,
		Description: "Combine asserted ACMG/AMP evidence codes into a five-tier variant classification.",
	}, s.handleClassifyVariant)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolLookupGuidelines,
		Description: "Look up NCCN recommendations for a disease and biomarker. Without a biomarker the covered biomarkers are listed.",
	}, s.handleLookupGuidelines)

	s.logger.WithField("tool_count", 4).Info("Registered MCP tools")
}

// Run serves the MCP protocol over stdin/stdout until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}
