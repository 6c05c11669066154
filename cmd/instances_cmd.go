package cmd

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/core"
	"github.com/nextlevelbuilder/wagate/internal/pending"
)

func instancesCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List instances and their connection state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Instances []core.InstanceInfo `json:"instances"`
			}
			if err := newAPIClient().getJSON("/api/wa/instances", &resp); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(resp.Instances)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INSTANCE\tSTATUS\tPAIRING CODE")
			for _, inst := range resp.Instances {
				code := "-"
				if inst.HasPairingCode {
					code = "available"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", inst.ID, inst.Status, code)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <instance>",
		Short: "Sign an instance out and drop its session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, status, err := newAPIClient().do(http.MethodPost, "/api/wa/logout/"+args[0], nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return apiError(status, data)
			}
			fmt.Printf("instance %s logged out\n", args[0])
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pending-message queue stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats pending.Stats
			if err := newAPIClient().getJSON("/api/send/stats", &stats); err != nil {
				return err
			}
			printJSON(stats)
			return nil
		},
	}
}
