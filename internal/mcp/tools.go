package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/corvino/tripsync/internal/session"
)

// prop is a shorthand for building a JSON Schema property.
func prop(typ, desc string) any {
	return map[string]any{
		"type":        typ,
		"description": desc,
	}
}

func propEnum(typ, desc string, enum []string) any {
	vals := make([]any, len(enum))
	for i, v := range enum {
		vals[i] = v
	}
	return map[string]any{
		"type":        typ,
		"description": desc,
		"enum":        vals,
	}
}

// RegisterTools adds all tripsync tools to the MCP server.
func RegisterTools(srv *mcpserver.MCPServer, trip Trip) {
	srv.AddTool(mcplib.Tool{
		Name:        "get_trip",
		Description: "Read the trip: recent chat, proposed activities with their yes/no tallies and your vote, and who is online.",
		InputSchema: mcplib.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"latest": prop("number", "Show only the last N chat messages (default: 20, 0 for all)"),
			},
		},
	}, makeGetTripHandler(trip))

	srv.AddTool(mcplib.Tool{
		Name:        "send_chat",
		Description: "Send a chat message to everyone on the trip.",
		InputSchema: mcplib.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"text": prop("string", "The message text to send"),
			},
			Required: []string{"text"},
		},
	}, makeSendChatHandler(trip))

	srv.AddTool(mcplib.Tool{
		Name:        "propose_activity",
		Description: "Propose an activity for the group to vote on.",
		InputSchema: mcplib.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"activity": prop("string", "Short description of the activity"),
			},
			Required: []string{"activity"},
		},
	}, makeProposeHandler(trip))

	srv.AddTool(mcplib.Tool{
		Name:        "vote",
		Description: "Vote yes or no on a proposed activity. Voting again replaces your earlier vote.",
		InputSchema: mcplib.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"activity_id": prop("string", "The activity id from get_trip"),
				"vote":        propEnum("string", "Your vote", []string{"yes", "no"}),
			},
			Required: []string{"activity_id", "vote"},
		},
	}, makeVoteHandler(trip))

	srv.AddTool(mcplib.Tool{
		Name:        "invite_collaborator",
		Description: "Invite someone to the trip by email. Only trip admins can invite.",
		InputSchema: mcplib.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"email": prop("string", "Email address to invite"),
			},
			Required: []string{"email"},
		},
	}, makeInviteHandler(trip))

	srv.AddTool(mcplib.Tool{
		Name:        "list_participants",
		Description: "List the participants currently connected to the trip.",
		InputSchema: mcplib.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, makeListParticipantsHandler(trip))
}

// failure renders an action error. A durability failure means peers saw the
// action live but it was not stored.
func failure(action string, err error) *mcplib.CallToolResult {
	var derr *session.DurabilityError
	if errors.As(err, &derr) {
		return mcplib.NewToolResultError(fmt.Sprintf("%s was shared live but not saved: %v", action, derr.Err))
	}
	return mcplib.NewToolResultError(fmt.Sprintf("failed to %s: %v", action, err))
}

func makeGetTripHandler(trip Trip) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		latest := request.GetInt("latest", 20)
		snap := trip.Snapshot()

		var sb strings.Builder
		fmt.Fprintf(&sb, "Trip: %s (%s)\n", snap.TripName, snap.TripID)

		msgs := snap.Messages
		if latest > 0 && len(msgs) > latest {
			msgs = msgs[len(msgs)-latest:]
		}
		sb.WriteString("\nChat:\n")
		if len(msgs) == 0 {
			sb.WriteString("(no messages)\n")
		}
		for _, m := range msgs {
			fmt.Fprintf(&sb, "[%s] %s: %s", m.Timestamp.Local().Format("Jan 02 15:04"), m.SenderName, m.Content)
			if m.Failed {
				sb.WriteString(" (not saved)")
			}
			sb.WriteString("\n")
		}

		sb.WriteString("\nActivities:\n")
		if len(snap.Activities) == 0 {
			sb.WriteString("(none proposed)\n")
		}
		for _, a := range snap.Activities {
			fmt.Fprintf(&sb, "- %s (id: %s, by %s) yes:%d no:%d", a.Content, a.ID, a.ProposerName, a.Tally.Yes, a.Tally.No)
			if a.MyVote != nil {
				fmt.Fprintf(&sb, " your vote: %s", yesNo(*a.MyVote))
			}
			sb.WriteString("\n")
		}

		return mcplib.NewToolResultText(sb.String()), nil
	}
}

func makeSendChatHandler(trip Trip) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		text := request.GetString("text", "")
		if strings.TrimSpace(text) == "" {
			return mcplib.NewToolResultError("text is required"), nil
		}
		if _, err := trip.SendChat(ctx, text); err != nil {
			return failure("send message", err), nil
		}
		return mcplib.NewToolResultText("Message sent"), nil
	}
}

func makeProposeHandler(trip Trip) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		activity := request.GetString("activity", "")
		if strings.TrimSpace(activity) == "" {
			return mcplib.NewToolResultError("activity is required"), nil
		}
		act, err := trip.Propose(ctx, activity)
		if err != nil {
			return failure("propose activity", err), nil
		}
		return mcplib.NewToolResultText(fmt.Sprintf("Proposed %q (id: %s)", act.Content, act.ID)), nil
	}
}

func makeVoteHandler(trip Trip) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		id := request.GetString("activity_id", "")
		vote := request.GetString("vote", "")
		if id == "" {
			return mcplib.NewToolResultError("activity_id is required"), nil
		}
		var value bool
		switch vote {
		case "yes":
			value = true
		case "no":
		default:
			return mcplib.NewToolResultError("vote must be yes or no"), nil
		}

		if _, err := trip.Vote(ctx, id, value); err != nil {
			if errors.Is(err, session.ErrUnknownActivity) {
				return mcplib.NewToolResultError(fmt.Sprintf("no activity with id %s; call get_trip for the current list", id)), nil
			}
			if errors.Is(err, session.ErrActivityNotStored) {
				return mcplib.NewToolResultError("that activity is still being saved; try again shortly"), nil
			}
			return failure("vote", err), nil
		}
		act, _ := trip.Snapshot().Activity(id)
		return mcplib.NewToolResultText(fmt.Sprintf("Voted %s on %q (yes:%d no:%d)", vote, act.Content, act.Tally.Yes, act.Tally.No)), nil
	}
}

func makeInviteHandler(trip Trip) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		email := request.GetString("email", "")
		if email == "" {
			return mcplib.NewToolResultError("email is required"), nil
		}
		if !trip.CanInvite() {
			return mcplib.NewToolResultError("only trip admins can invite collaborators"), nil
		}
		c, err := trip.Invite(ctx, email)
		if err != nil {
			return failure("invite", err), nil
		}
		return mcplib.NewToolResultText(fmt.Sprintf("Invited %s (%s, %s)", c.Email, c.Role, c.Status)), nil
	}
}

func makeListParticipantsHandler(trip Trip) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		snap := trip.Snapshot()
		if len(snap.Presence) == 0 {
			return mcplib.NewToolResultText("Nobody else is connected to this trip."), nil
		}

		var sb strings.Builder
		for _, p := range snap.Presence {
			fmt.Fprintf(&sb, "%s (id: %s", p.Username, p.UserID)
			if p.ConnectionID != "" {
				fmt.Fprintf(&sb, ", connection %s", p.ConnectionID)
			}
			sb.WriteString(")\n")
		}
		return mcplib.NewToolResultText(sb.String()), nil
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
