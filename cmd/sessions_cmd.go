package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawdbot/pagerbridge/internal/session"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage recorded sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsStartCmd())
	cmd.AddCommand(sessionsEndCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []session.Summary
			if err := bridgeGet("/api/sessions", &list); err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no recordings")
				return nil
			}
			for _, s := range list {
				mark := ""
				if s.EndTime == "" {
					mark = "  (recording)"
				}
				fmt.Printf("%s  %s  %4.0fs  %d events  %d errors%s\n",
					s.SessionID, s.StartTime, s.DurationS, s.EventCount, s.ErrorCount, mark)
				if s.Notes != "" {
					fmt.Printf("    %s\n", s.Notes)
				}
			}
			return nil
		},
	}
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a recording as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec session.Recording
			if err := bridgeGet("/api/sessions/"+args[0], &rec); err != nil {
				return err
			}
			out, _ := json.MarshalIndent(rec, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func sessionsStartCmd() *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start recording a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := bridgePost("/api/sessions/start", map[string]any{"notes": notes}, &out); err != nil {
				return err
			}
			fmt.Printf("recording %v\n", out["session_id"])
			return nil
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "notes attached to the recording")
	return cmd
}

func sessionsEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "Stop the current recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := bridgePost("/api/sessions/end", map[string]any{}, &out); err != nil {
				return err
			}
			if out["status"] == "no_session" {
				fmt.Println("no recording in progress")
				return nil
			}
			fmt.Printf("saved %v\n", out["session_id"])
			return nil
		},
	}
}

func bridgeGet(path string, out any) error {
	httpc := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpc.Get(bridgeURL() + path)
	if err != nil {
		return fmt.Errorf("bridge not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func bridgePost(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpc := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpc.Post(bridgeURL()+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("bridge not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
