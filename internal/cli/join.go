package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvino/tripsync/internal/gateway"
)

// Config is the .tripsync project config written by "join".
type Config struct {
	Server   string `json:"server"`
	Trip     string `json:"trip"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

const configFileName = ".tripsync"

// merge overwrites c's fields with the non-empty fields of other.
func (c *Config) merge(other Config) {
	if other.Server != "" {
		c.Server = other.Server
	}
	if other.Trip != "" {
		c.Trip = other.Trip
	}
	if other.UserID != "" {
		c.UserID = other.UserID
	}
	if other.Username != "" {
		c.Username = other.Username
	}
	if other.Token != "" {
		c.Token = other.Token
	}
}

func newJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <url> [trip] [user-id]",
		Short: "Connect this directory to a trip on a tripsync server",
		Long: `Connects to a tripsync server, verifies that it is reachable and that your
token can load the trip, and writes a .tripsync config file in the current
directory so all future commands just work.`,
		Args: cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := Config{Server: flagServer, Trip: flagTrip, UserID: flagUser, Username: flagName, Token: flagToken}
			if len(args) >= 1 {
				cfg.Server = args[0]
			}
			if len(args) >= 2 {
				cfg.Trip = args[1]
			}
			if len(args) >= 3 {
				cfg.UserID = args[2]
			}
			return runJoin(cmd.Context(), cfg)
		},
	}
	return cmd
}

func runJoin(ctx context.Context, cfg Config) error {
	reader := bufio.NewReader(os.Stdin)
	prompt := func(label string, val *string) {
		if *val != "" {
			return
		}
		fmt.Print(label)
		line, _ := reader.ReadString('\n')
		*val = strings.TrimSpace(line)
	}

	prompt("Server URL: ", &cfg.Server)
	if cfg.Server == "" {
		return fmt.Errorf("server URL is required")
	}
	cfg.Server = strings.TrimRight(cfg.Server, "/")

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	fmt.Printf("Connecting to %s ...\n", cfg.Server)
	gw := gateway.New(gateway.Config{BaseURL: cfg.Server, Token: cfg.Token})
	health, err := gw.Health(ctx)
	if err != nil {
		return fmt.Errorf("could not reach server: %w", err)
	}
	fmt.Printf("Connected! Server is %s (uptime: %s, %d rooms)\n", health.Status, health.Uptime, health.Rooms)

	prompt("Trip id: ", &cfg.Trip)
	if cfg.Trip == "" {
		return fmt.Errorf("trip id is required")
	}
	prompt("Your user id: ", &cfg.UserID)
	if cfg.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	prompt("Your display name: ", &cfg.Username)
	if cfg.Username == "" {
		cfg.Username = cfg.UserID
	}

	trip, err := gw.LoadTrip(ctx, cfg.Trip)
	switch {
	case gateway.IsUnauthorized(err):
		return fmt.Errorf("the server rejected your token; ask for a new one (use --token or TRIPSYNC_TOKEN)")
	case gateway.IsForbidden(err):
		return fmt.Errorf("you are not an active collaborator on trip %q", cfg.Trip)
	case err != nil:
		return err
	}

	if err := writeConfig(configFileName, cfg); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", configFileName)

	fmt.Println()
	fmt.Printf("  Trip:    %s (%s)\n", trip.Name, trip.ID)
	fmt.Printf("  You:     %s (%s)\n", cfg.Username, cfg.UserID)
	fmt.Printf("  History: %d messages, %d activities\n", len(trip.Messages), len(trip.Activities))
	fmt.Println()
	fmt.Println("  Quick commands:")
	fmt.Println(`    tripsync send "hello everyone!"`)
	fmt.Println(`    tripsync propose "sunset sail on Friday"`)
	fmt.Println(`    tripsync watch`)
	fmt.Println()
	return nil
}

// writeConfig writes cfg as indented JSON. The file may hold a token, so it
// is only readable by its owner.
func writeConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// loadConfig reads a .tripsync config from the current directory or any
// parent directory. It returns the config and the path it was read from.
func loadConfig() (*Config, string) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, ""
	}
	return findConfig(dir)
}

func findConfig(dir string) (*Config, string) {
	for {
		path := filepath.Join(dir, configFileName)
		data, err := os.ReadFile(path)
		if err == nil {
			var cfg Config
			if json.Unmarshal(data, &cfg) == nil {
				return &cfg, path
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, ""
}
