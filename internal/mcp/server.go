// Package mcp exposes an open trip view as Model Context Protocol tools.
package mcp

import (
	"context"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/session"
)

// Trip is the live trip the tools act on. *session.View implements it.
type Trip interface {
	Snapshot() session.Snapshot
	SendChat(ctx context.Context, content string) (protocol.ChatMessage, error)
	Propose(ctx context.Context, content string) (protocol.ActivityProposal, error)
	Vote(ctx context.Context, activityID string, value bool) (protocol.ActivityProposal, error)
	Invite(ctx context.Context, email string) (protocol.Collaborator, error)
	CanInvite() bool
}

// NewServer builds an MCP server with every tripsync tool registered.
func NewServer(trip Trip) *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(
		"tripsync",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)
	RegisterTools(srv, trip)
	return srv
}

// Serve runs the MCP stdio server. It blocks until stdin is closed or ctx is
// cancelled.
func Serve(ctx context.Context, trip Trip) error {
	stdioSrv := mcpserver.NewStdioServer(NewServer(trip))
	return stdioSrv.Listen(ctx, os.Stdin, os.Stdout)
}
