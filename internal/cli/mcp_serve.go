package cli

import (
	"github.com/spf13/cobra"

	"github.com/corvino/tripsync/internal/mcp"
)

func newMCPServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "mcp-serve",
		Short:  "Start the MCP stdio server for assistant integration",
		Long:   `Runs a Model Context Protocol (MCP) server over stdio with a live view of the configured trip. An assistant connects to it as a subprocess to read the trip and to chat, propose, vote and invite (get_trip, send_chat, propose_activity, vote, invite_collaborator, list_participants).`,
		Hidden: true, // Not typically called by users directly
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openView(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer v.Close()
			return mcp.Serve(cmd.Context(), v)
		},
	}
}
