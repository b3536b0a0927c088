package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/materium/paperbase/api"
	"github.com/materium/paperbase/internal/ingest"
)

var (
	taskServerAddr string
	taskFollow     bool
)

var taskCmd = &cobra.Command{
	Use:   "task [task-id]",
	Short: "Show the status of an ingestion task on a running server",
	Long: `Queries a running paperbase server for the status of a batch started
through the HTTP API. Use --follow to poll until the task reaches a
terminal state.`,
	Args: cobra.ExactArgs(1),
	RunE: runTask,
}

func init() {
	taskCmd.Flags().StringVar(&taskServerAddr, "server", "http://"+api.DefaultAddr,
		"base URL of the paperbase server")
	taskCmd.Flags().BoolVarP(&taskFollow, "follow", "f", false,
		"poll until the task finishes")
	rootCmd.AddCommand(taskCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	taskID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", args[0], err)
	}

	base, err := url.Parse(taskServerAddr)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	endpoint := base.JoinPath("api", "tasks", taskID.String()).String()

	ctx := cmd.Context()
	client := &http.Client{Timeout: 10 * time.Second}

	lastMessage := ""
	for {
		task, err := fetchTask(ctx, client, endpoint)
		if err != nil {
			return err
		}
		if task.Message != lastMessage {
			fmt.Printf("[%3d%%] %s\n", task.Progress, task.Message)
			lastMessage = task.Message
		}
		if task.Status.Terminal() {
			return printOutcome(task)
		}
		if !taskFollow {
			fmt.Printf("status: %s\n", task.Status)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func fetchTask(ctx context.Context, client *http.Client, endpoint string) (ingest.Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ingest.Task{}, fmt.Errorf("building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return ingest.Task{}, fmt.Errorf("contacting server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ingest.Task{}, fmt.Errorf("task not found (expired or unknown)")
	default:
		return ingest.Task{}, fmt.Errorf("server returned %s", resp.Status)
	}

	var task ingest.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return ingest.Task{}, fmt.Errorf("decoding response: %w", err)
	}
	return task, nil
}
