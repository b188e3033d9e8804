package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-medplan/internal/config"
	"github.com/drfirst/go-medplan/internal/extraction"
	"github.com/drfirst/go-medplan/internal/schedule"
)

// readInput reads the named file, or stdin for "-".
func readInput(cmd *cobra.Command, name string) (string, error) {
	if name == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(b), nil
}

// extractFile runs the cascade over a file, narrowed to section when set.
func extractFile(cmd *cobra.Command, name, section string) (extraction.Result, error) {
	text, err := readInput(cmd, name)
	if err != nil {
		return extraction.Result{}, err
	}
	cfg, err := config.LoadWithoutDatabase()
	if err != nil {
		return extraction.Result{}, err
	}
	if section != "" {
		if body, ok := extraction.SelectSection(text, section); ok {
			text = body
		}
	}
	return extraction.New(extraction.WithSentinels(cfg.ExtractionSentinels...)).Extract(text), nil
}

func extractCmd() *cobra.Command {
	var (
		section string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "extract <file|->",
		Short: "Extract medication entries from a narrative file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := extractFile(cmd, args[0], section)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIER\tNAME\tDOSAGE\tTIMING\tNOTES")
			for _, c := range res.Candidates {
				e, err := extraction.NewEntry(c)
				if err != nil {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.SourceTier, e.Name, e.Dosage, e.Timing, e.Notes)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nstatus=%s malformed=%d sentinel_skips=%d duplicates=%d\n",
				res.Status, res.Malformed, res.SentinelSkips, res.Duplicates)
			return nil
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "Only read the named === section ===")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

func scheduleCmd() *cobra.Command {
	var (
		section string
		days    int
	)
	cmd := &cobra.Command{
		Use:   "schedule <file|->",
		Short: "Print the dated dose plan for a narrative file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := extractFile(cmd, args[0], section)
			if err != nil {
				return err
			}
			occ, err := schedule.NewExpander().Expand(res.Entries(), days, nil)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tTIME\tMEDICINE\tDOSAGE")
			for _, o := range occ {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Day(), o.ClockTime, o.MedicineName, o.Dosage)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&section, "section", "用药方案", "Only read the named === section ===")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to plan")
	return cmd
}
