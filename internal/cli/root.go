package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	flagServer  string
	flagTrip    string
	flagUser    string
	flagName    string
	flagToken   string
	flagVerbose bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tripsync",
		Short: "CLI for tripsync - live trip chat, activity proposals and votes",
	}

	// Resolve defaults: flags > env vars > .tripsync config > hardcoded defaults.
	defaults := Config{Server: "http://localhost:8080"}
	if cfg, _ := loadConfig(); cfg != nil {
		defaults.merge(*cfg)
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flagServer, "server", "s", envOrDefault("TRIPSYNC_SERVER", defaults.Server), "server URL")
	pf.StringVarP(&flagTrip, "trip", "t", envOrDefault("TRIPSYNC_TRIP", defaults.Trip), "trip id")
	pf.StringVarP(&flagUser, "user", "u", envOrDefault("TRIPSYNC_USER", defaults.UserID), "your user id")
	pf.StringVarP(&flagName, "name", "n", envOrDefault("TRIPSYNC_NAME", defaults.Username), "your display name")
	pf.StringVar(&flagToken, "token", envOrDefault("TRIPSYNC_TOKEN", defaults.Token), "bearer token for the persistence gateway")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log connection events to stderr")

	root.AddCommand(
		newJoinCmd(),
		newTripCmd(),
		newShowCmd(),
		newSendCmd(),
		newProposeCmd(),
		newVoteCmd(),
		newInviteCmd(),
		newWatchCmd(),
		newChatCmd(),
		newDigestCmd(),
		newRoomsCmd(),
		newStatusCmd(),
		newMCPServeCmd(),
	)

	return root
}

// Execute runs the CLI.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// logger writes to stderr so stdout stays clean for output and MCP stdio.
func logger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
