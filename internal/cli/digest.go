package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"

	"github.com/corvino/tripsync/internal/synopsis"
)

func newDigestCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Save the trip's transcript and activity ranking to a markdown file",
		Long: `Loads the trip's durable record and writes it as a markdown digest:
collaborators, activities ranked by votes, and the chat transcript.

Examples:
  tripsync digest                    # Write tripsync-digest.md
  tripsync digest -o plan.md         # Custom output file
  tripsync digest -o plan.html       # Rendered as HTML
  tripsync digest -o -               # Print to stdout`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireTrip(); err != nil {
				return err
			}
			trip, err := newGateway().LoadTrip(cmd.Context(), flagTrip)
			if err != nil {
				return err
			}

			content := synopsis.Build(trip, time.Now())
			if outputFile == "-" {
				_, err := fmt.Print(content)
				return err
			}
			data := []byte(content)
			if strings.EqualFold(filepath.Ext(outputFile), ".html") {
				if data, err = renderHTML(data); err != nil {
					return err
				}
			}
			if err := os.WriteFile(outputFile, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outputFile, err)
			}
			fmt.Fprintf(os.Stderr, "wrote %d messages and %d activities to %s\n", len(trip.Messages), len(trip.Activities), outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "tripsync-digest.md", "output file, or - for stdout")
	return cmd
}

// renderHTML converts the markdown digest into a standalone HTML page.
func renderHTML(md []byte) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert(md, &body); err != nil {
		return nil, fmt.Errorf("render digest: %w", err)
	}
	var page bytes.Buffer
	page.WriteString("<!doctype html>\n<html><head><meta charset=\"utf-8\"><title>Trip digest</title></head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}
