package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show bridge and pager status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func runStatus(asJSON bool) error {
	httpc := &http.Client{Timeout: 3 * time.Second}
	resp, err := httpc.Get(bridgeURL() + "/status")
	if err != nil {
		return fmt.Errorf("bridge not reachable: %w", err)
	}
	defer resp.Body.Close()

	var st struct {
		Connected       bool   `json:"connected"`
		ReportedMode    string `json:"display_mode"`
		ActiveRequestID string `json:"active_permission"`
		Observers       int    `json:"observers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	if asJSON {
		out, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	pager := "disconnected"
	if st.Connected {
		pager = "connected"
	}
	fmt.Printf("pager:      %s\n", pager)
	if st.ReportedMode != "" {
		fmt.Printf("mode:       %s\n", st.ReportedMode)
	}
	fmt.Printf("observers:  %d\n", st.Observers)
	if st.ActiveRequestID != "" {
		fmt.Printf("pending:    permission request %s\n", st.ActiveRequestID)
	}
	return nil
}
