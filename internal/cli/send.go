package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corvino/tripsync/internal/session"
)

// readContent takes message content from --body, the positional arguments or
// piped stdin, in that order.
func readContent(body string, args []string, stdin *os.File) (string, error) {
	var content string
	switch {
	case body != "":
		content = body
	case len(args) > 0:
		content = strings.Join(args, " ")
	default:
		stat, err := stdin.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", fmt.Errorf("no message provided (use args, --body, or pipe to stdin)")
		}
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		content = string(b)
	}
	return strings.TrimRight(content, "\n"), nil
}

// withView opens a view for one action and closes it afterwards.
func withView(ctx context.Context, fn func(*session.View) error) error {
	v, err := openView(ctx, nil)
	if err != nil {
		return err
	}
	defer v.Close()
	return fn(v)
}

// explain turns a durability failure into a user-facing error. The action was
// already shown to peers, so the message says so.
func explain(err error) error {
	if errors.Is(err, session.ErrActivityNotStored) {
		return errors.New("that activity is still being saved; vote again in a moment")
	}
	var derr *session.DurabilityError
	if errors.As(err, &derr) {
		return fmt.Errorf("shared live but not saved: %w", derr.Err)
	}
	return err
}

func newSendCmd() *cobra.Command {
	var body string

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a chat message to the trip",
		Long: `Send a chat message to the trip. Message content can come from:
  - Positional arguments (joined with spaces)
  - The --body flag
  - Stdin (if no args and no --body)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(body, args, os.Stdin)
			if err != nil {
				return err
			}
			return withView(cmd.Context(), func(v *session.View) error {
				msg, err := v.SendChat(cmd.Context(), content)
				if err != nil {
					return explain(err)
				}
				fmt.Fprintf(os.Stderr, "sent message %s to trip %q\n", *msg.ID, flagTrip)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&body, "body", "", "message body (alternative to args/stdin)")
	return cmd
}

func newProposeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "propose <activity>",
		Short: "Propose an activity for the trip",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withView(cmd.Context(), func(v *session.View) error {
				act, err := v.Propose(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return explain(err)
				}
				fmt.Printf("proposed %s: %s\n", act.ID, act.Content)
				return nil
			})
		},
	}
}

func newVoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vote <activity-id> <yes|no>",
		Short: "Vote on a proposed activity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseVote(args[1])
			if err != nil {
				return err
			}
			return withView(cmd.Context(), func(v *session.View) error {
				if _, err := v.Vote(cmd.Context(), args[0], value); err != nil {
					if errors.Is(err, session.ErrUnknownActivity) {
						return fmt.Errorf("no activity %q on this trip (see tripsync show)", args[0])
					}
					return explain(err)
				}
				act, _ := v.Snapshot().Activity(args[0])
				fmt.Println(formatActivity(act, false))
				return nil
			})
		},
	}
}

func parseVote(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "y", "up", "true":
		return true, nil
	case "no", "n", "down", "false":
		return false, nil
	}
	return false, fmt.Errorf("vote must be yes or no, got %q", s)
}

func newInviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite <email>",
		Short: "Invite a collaborator to the trip (admins only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withView(cmd.Context(), func(v *session.View) error {
				if !v.CanInvite() {
					return fmt.Errorf("only the trip's admins can invite collaborators")
				}
				c, err := v.Invite(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("invited %s as %s (%s)\n", c.Email, c.Role, c.Status)
				return nil
			})
		},
	}
}
