// Command orchestratorctl is the operator CLI for the orchestration core,
// adapted from apicall-cli/main.go: a thin cobra front-end that talks to
// the HTTP API over plain net/http, no direct database access.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiHost string
	token   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orchestratorctl",
		Short: "Operate the call orchestration core remotely",
	}

	rootCmd.PersistentFlags().StringVar(&apiHost, "host", "http://localhost:8080", "base URL of the orchestrator API")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("ORCHESTRATORCTL_TOKEN"), "bearer token for the protected API")

	queueCmd := &cobra.Command{Use: "queue", Short: "Inspect and drive the call queue"}

	queueStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth by status for a tenant",
		Run:   runQueueStatus,
	}
	queueStatusCmd.Flags().Int64("tenant", 0, "tenant id (required)")

	queueProcessCmd := &cobra.Command{
		Use:   "process",
		Short: "Trigger one queue processor pass",
		Run:   runQueueProcess,
	}

	queueRefreshCmd := &cobra.Command{
		Use:   "refresh-schedule",
		Short: "Force the campaign schedule cache to reload",
		Run:   runQueueScheduleRefresh,
	}

	queueCmd.AddCommand(queueStatusCmd, queueProcessCmd, queueRefreshCmd)

	callCmd := &cobra.Command{Use: "call", Short: "Place calls"}

	callInitiateCmd := &cobra.Command{
		Use:   "initiate",
		Short: "Enqueue a direct call",
		Run:   runCallInitiate,
	}
	callInitiateCmd.Flags().Int64("tenant", 0, "tenant id (required)")
	callInitiateCmd.Flags().Int64("agent", 0, "agent id (required)")
	callInitiateCmd.Flags().String("phone", "", "phone number to call (required)")

	callCmd.AddCommand(callInitiateCmd)

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Trigger a stuck-call reconciliation sweep",
		Run:   runReconcile,
	}

	notifyCmd := &cobra.Command{Use: "notifications", Short: "Manage tenant notification preferences"}

	notifyGetCmd := &cobra.Command{
		Use:   "preferences",
		Short: "Show a tenant's notification preferences",
		Run:   runNotificationPreferences,
	}
	notifyGetCmd.Flags().Int64("tenant", 0, "tenant id (required)")

	notifyHistoryCmd := &cobra.Command{
		Use:   "history",
		Short: "Show a tenant's notification history",
		Run:   runNotificationHistory,
	}
	notifyHistoryCmd.Flags().Int64("tenant", 0, "tenant id (required)")
	notifyHistoryCmd.Flags().Int("limit", 50, "max rows to return")

	notifyCmd.AddCommand(notifyGetCmd, notifyHistoryCmd)

	rootCmd.AddCommand(queueCmd, callCmd, reconcileCmd, notifyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runQueueStatus(cmd *cobra.Command, args []string) {
	tenant, _ := cmd.Flags().GetInt64("tenant")
	if tenant == 0 {
		fmt.Println("error: --tenant is required")
		return
	}
	url := fmt.Sprintf("%s/calls/queue/status?tenant_id=%d", apiHost, tenant)
	body, status, err := doGet(url)
	if err != nil {
		fmt.Printf("connection error: %v\n", err)
		return
	}
	if status != 200 {
		fmt.Printf("API error (%d): %s\n", status, body)
		return
	}

	var stats map[string]int
	if err := json.Unmarshal(body, &stats); err != nil {
		fmt.Println(string(body))
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	for status, n := range stats {
		fmt.Fprintf(w, "%s\t%d\n", status, n)
	}
	w.Flush()
}

func runQueueProcess(cmd *cobra.Command, args []string) {
	sendPost(fmt.Sprintf("%s/queue/process", apiHost), nil)
}

func runQueueScheduleRefresh(cmd *cobra.Command, args []string) {
	sendPost(fmt.Sprintf("%s/queue/schedule/refresh", apiHost), nil)
}

func runReconcile(cmd *cobra.Command, args []string) {
	sendPost(fmt.Sprintf("%s/queue/reconcile", apiHost), nil)
}

func runCallInitiate(cmd *cobra.Command, args []string) {
	tenant, _ := cmd.Flags().GetInt64("tenant")
	agent, _ := cmd.Flags().GetInt64("agent")
	phone, _ := cmd.Flags().GetString("phone")
	if tenant == 0 || agent == 0 || phone == "" {
		fmt.Println("error: --tenant, --agent, and --phone are required")
		return
	}

	start := time.Now()
	sendPost(fmt.Sprintf("%s/calls/initiate", apiHost), map[string]interface{}{
		"tenant_id": tenant,
		"agent_id":  agent,
		"phone":     phone,
	})
	fmt.Printf("elapsed: %v\n", time.Since(start))
}

func runNotificationPreferences(cmd *cobra.Command, args []string) {
	tenant, _ := cmd.Flags().GetInt64("tenant")
	if tenant == 0 {
		fmt.Println("error: --tenant is required")
		return
	}
	body, status, err := doGet(fmt.Sprintf("%s/notifications/preferences?tenant_id=%d", apiHost, tenant))
	if err != nil {
		fmt.Printf("connection error: %v\n", err)
		return
	}
	if status != 200 {
		fmt.Printf("API error (%d): %s\n", status, body)
		return
	}
	fmt.Println(string(body))
}

func runNotificationHistory(cmd *cobra.Command, args []string) {
	tenant, _ := cmd.Flags().GetInt64("tenant")
	limit, _ := cmd.Flags().GetInt("limit")
	if tenant == 0 {
		fmt.Println("error: --tenant is required")
		return
	}
	url := fmt.Sprintf("%s/notifications/history?tenant_id=%d&limit=%d", apiHost, tenant, limit)
	body, status, err := doGet(url)
	if err != nil {
		fmt.Printf("connection error: %v\n", err)
		return
	}
	if status != 200 {
		fmt.Printf("API error (%d): %s\n", status, body)
		return
	}
	fmt.Println(string(body))
}

func doGet(url string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return body, resp.StatusCode, err
}

func sendPost(url string, data interface{}) {
	var payload []byte
	if data != nil {
		payload, _ = json.Marshal(data)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		fmt.Printf("request error: %v\n", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("connection error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("API error (%s): %s\n", resp.Status, string(body))
	}
}
