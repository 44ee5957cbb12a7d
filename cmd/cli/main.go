package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	timeout   int
	inputFile string
	status    string
)

func main() {
	root := &cobra.Command{
		Use:          "snippet-cli",
		Short:        "CLI client for snippet-runner",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("SNIPPET_SERVER", "http://localhost:8006"), "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SNIPPET_API_KEY"), "API key")

	execCmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Build and run a snippet (reads stdin when no code is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	execCmd.Flags().IntVar(&timeout, "timeout", 0, "Run timeout in seconds (server default when 0)")
	execCmd.Flags().StringVar(&inputFile, "input", "", "File whose contents are piped to the program's stdin")
	root.AddCommand(execCmd)

	execFileCmd := &cobra.Command{
		Use:   "exec-file <file>",
		Short: "Build and run a snippet from a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecFile,
	}
	execFileCmd.Flags().IntVar(&timeout, "timeout", 0, "Run timeout in seconds (server default when 0)")
	execFileCmd.Flags().StringVar(&inputFile, "input", "", "File whose contents are piped to the program's stdin")
	root.AddCommand(execFileCmd)

	root.AddCommand(&cobra.Command{
		Use:   "validate [code]",
		Short: "Compile-check a snippet without running it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	})

	root.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show the server's execution policy",
		RunE:  getAndPrint("/info"),
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  getAndPrint("/health"),
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions from the audit log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			path := "/executions"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			return getAndPrint(path)(cmd, nil)
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Only show executions with this status")
	root.AddCommand(listCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// codeArg returns the code argument, or all of stdin when absent.
func codeArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func runExec(_ *cobra.Command, args []string) error {
	code, err := codeArg(args)
	if err != nil {
		return err
	}
	return executeCode(code)
}

func runExecFile(_ *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	return executeCode(string(data))
}

func executeCode(code string) error {
	payload := map[string]any{"code": code}
	if timeout > 0 {
		payload["timeout"] = timeout
	}
	if inputFile != "" {
		input, err := os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		payload["inputData"] = string(input)
	}

	var result struct {
		Output        string  `json:"output"`
		Error         string  `json:"error"`
		ExecutionTime float64 `json:"executionTime"`
		Status        string  `json:"status"`
	}
	if err := post("/execute", payload, &result); err != nil {
		return err
	}

	if result.Output != "" {
		fmt.Println(result.Output)
	}
	if result.Error != "" {
		fmt.Fprintln(os.Stderr, result.Error)
	}
	fmt.Fprintf(os.Stderr, "[%s in %.3fs]\n", result.Status, result.ExecutionTime)

	switch result.Status {
	case "success":
		return nil
	case "timeout":
		os.Exit(124)
	default:
		os.Exit(1)
	}
	return nil
}

func runValidate(_ *cobra.Command, args []string) error {
	code, err := codeArg(args)
	if err != nil {
		return err
	}

	var result struct {
		IsValid bool     `json:"isValid"`
		Errors  []string `json:"errors"`
	}
	if err := post("/validate", map[string]any{"code": code}, &result); err != nil {
		return err
	}

	if result.IsValid {
		fmt.Println("valid")
		return nil
	}
	for _, e := range result.Errors {
		fmt.Fprintln(os.Stderr, e)
	}
	os.Exit(1)
	return nil
}

func post(path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	// Long enough for a full build plus the maximum run timeout.
	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("server returned %d: %s (%s)", resp.StatusCode, apiErr.Error, apiErr.Code)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func getAndPrint(path string) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, _ []string) error {
		req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
		if err != nil {
			return err
		}
		if apiKey != "" {
			req.Header.Set("X-API-Key", apiKey)
		}

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		var result any
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		formatted, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(formatted))
		return nil
	}
}
