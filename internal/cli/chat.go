package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/corvino/tripsync/internal/session"
)

const chatHelp = `commands:
  <text>                 send a chat message
  /propose <activity>    propose an activity
  /vote <id> <yes|no>    vote on an activity
  /invite <email>        invite a collaborator (admins only)
  /show                  print the current trip state
  /quit                  leave the trip`

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Join the trip interactively: live updates plus a prompt",
		Long:  "Opens a live view of the trip and a line editor.\n\n" + chatHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			history := ""
			if home, err := os.UserHomeDir(); err == nil {
				history = filepath.Join(home, ".tripsync_history")
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     history,
				InterruptPrompt: "^C",
				EOFPrompt:       "/quit",
			})
			if err != nil {
				return fmt.Errorf("open terminal: %w", err)
			}
			defer rl.Close()

			// OnChange runs on the connection goroutine; the watcher is not
			// safe for concurrent renders.
			var mu sync.Mutex
			w := newWatcher(rl.Stdout(), useColor(false))
			var v *session.View
			render := func() {
				mu.Lock()
				defer mu.Unlock()
				if v != nil {
					w.render(v.Snapshot())
				}
			}

			opened, err := openView(ctx, render)
			if err != nil {
				return err
			}
			defer opened.Close()
			mu.Lock()
			v = opened
			mu.Unlock()
			render()
			fmt.Fprintln(rl.Stdout(), "type /help for commands")

			go func() {
				<-ctx.Done()
				rl.Close()
			}()

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						return nil
					}
					continue
				}
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				if err != nil {
					return err
				}
				quit, err := runChatLine(ctx, v, strings.TrimSpace(line), rl.Stdout())
				if err != nil {
					fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
				}
				if quit {
					return nil
				}
			}
		},
	}
}

// runChatLine executes one line typed at the chat prompt. It reports whether
// the user asked to quit.
func runChatLine(ctx context.Context, v *session.View, line string, out io.Writer) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := v.SendChat(ctx, line)
		return false, explain(err)
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, chatHelp)
	case "/show":
		snap := v.Snapshot()
		fmt.Fprintf(out, "online: %s\n", formatPresence(snap.Presence))
		for _, a := range snap.Activities {
			fmt.Fprintln(out, "  "+formatActivity(a, false))
		}
	case "/propose":
		if rest == "" {
			return false, fmt.Errorf("usage: /propose <activity>")
		}
		_, err := v.Propose(ctx, rest)
		return false, explain(err)
	case "/vote":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /vote <id> <yes|no>")
		}
		value, err := parseVote(fields[1])
		if err != nil {
			return false, err
		}
		_, err = v.Vote(ctx, fields[0], value)
		if errors.Is(err, session.ErrUnknownActivity) {
			return false, fmt.Errorf("no activity %q; try /show", fields[0])
		}
		return false, explain(err)
	case "/invite":
		if rest == "" {
			return false, fmt.Errorf("usage: /invite <email>")
		}
		if !v.CanInvite() {
			return false, fmt.Errorf("only the trip's admins can invite collaborators")
		}
		c, err := v.Invite(ctx, rest)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "invited %s (%s)\n", c.Email, c.Status)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}
