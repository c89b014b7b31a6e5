package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// sentinel is the operator CLI for a running sentinel server. Every command
// is a thin wrapper over the HTTP API so the CLI needs no database access.

var serverAddr string

func main() {
	root := &cobra.Command{
		Use:           "sentinel",
		Short:         "Operate a sentinel rule engine over its HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverAddr, "addr", defaultAddr(), "server base URL")

	root.AddCommand(runCmd(), rulesCmd(), executionsCmd(), previewCmd(), testFireCmd(), healthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultAddr() string {
	if addr := os.Getenv("SENTINEL_ADDR"); addr != "" {
		return addr
	}
	return "http://localhost:8080"
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Trigger one scheduled detection pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/v1/run", nil)
		},
	}
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage automation rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/v1/rules", nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <ruleId>",
		Short: "Show one rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/v1/rules/"+args[0], nil)
		},
	})

	var file string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a rule from a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readJSONFile(file)
			if err != nil {
				return err
			}
			return call(http.MethodPost, "/api/v1/rules", body)
		},
	}
	create.Flags().StringVarP(&file, "file", "f", "", "rule definition JSON file (required)")
	create.MarkFlagRequired("file")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <ruleId>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodDelete, "/api/v1/rules/"+args[0], nil)
		},
	})

	return cmd
}

func executionsCmd() *cobra.Command {
	var limit int
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "executions <ruleId>",
		Short: "List recent executions of a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, fmt.Sprintf("/api/v1/rules/%s/executions?limit=%d", args[0], limit), nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum executions to return")

	stale := &cobra.Command{
		Use:   "stale",
		Short: "List executions stuck in running status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/v1/executions/stale?olderThan="+olderThan.String(), nil)
		},
	}
	stale.Flags().DurationVar(&olderThan, "older-than", time.Hour, "running-time threshold")
	cmd.AddCommand(stale)

	return cmd
}

func previewCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "preview <ruleId>",
		Short: "Render a rule against a sample entity without firing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, err := readJSONFile(file)
			if err != nil {
				return err
			}
			return call(http.MethodPost, "/api/v1/rules/"+args[0]+"/preview", map[string]any{"sample": sample})
		},
	}
	cmd.Flags().StringVarP(&file, "sample", "f", "", "sample entity JSON file (required)")
	cmd.MarkFlagRequired("sample")
	return cmd
}

func testFireCmd() *cobra.Command {
	var entityID, triggeredBy string

	cmd := &cobra.Command{
		Use:   "test-fire <ruleId>",
		Short: "Fire a rule once against a real entity, bypassing cooldown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/v1/rules/"+args[0]+"/test-fire", map[string]any{
				"entityId":    entityID,
				"triggeredBy": triggeredBy,
			})
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "entity identifier")
	cmd.Flags().StringVar(&triggeredBy, "by", "", "who is firing the test (required)")
	cmd.MarkFlagRequired("by")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/v1/health", nil)
		},
	}
}

func readJSONFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return body, nil
}

// call issues one request and pretty-prints the JSON response.
func call(method, path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, serverAddr+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(raw) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, raw, "", "  "); err == nil {
			raw = pretty.Bytes()
		}
		fmt.Println(string(raw))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
