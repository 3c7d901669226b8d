// Package api implements the control-plane REST client consumed by the
// worker. Every mutation returns the server's updated ticket representation,
// which callers store back into the shared ticket holder.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agentd/pkg/convo"
	"agentd/pkg/ticket"
)

const defaultRequestTimeout = 30 * time.Second

// Client talks to the control plane over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given server base URL.
func NewClient(serverURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    &http.Client{Timeout: defaultRequestTimeout},
	}
}

// NewClientWithHTTP creates a client with a caller-supplied http.Client,
// primarily for tests.
func NewClientWithHTTP(serverURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return &NotFoundError{Path: path}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, truncateBody(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response from %s: %w", path, err)
		}
	}
	return nil
}

// NotFoundError indicates the requested resource does not exist remotely.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource not found: %s", e.Path)
}

func truncateBody(data []byte) string {
	const max = 512
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// GetTicket fetches the ticket by id.
func (c *Client) GetTicket(ctx context.Context, id string) (*ticket.Ticket, error) {
	var t ticket.Ticket
	if err := c.do(ctx, http.MethodGet, "/api/tickets/"+id, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateStatus moves the ticket to the given lifecycle status.
func (c *Client) UpdateStatus(ctx context.Context, id string, status ticket.Status) (*ticket.Ticket, error) {
	var t ticket.Ticket
	body := map[string]string{"status": string(status)}
	if err := c.do(ctx, http.MethodPatch, "/api/tickets/"+id+"/status", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateBranch publishes the worker's branch name.
func (c *Client) UpdateBranch(ctx context.Context, id, branch string) (*ticket.Ticket, error) {
	var t ticket.Ticket
	body := map[string]string{"branchName": branch}
	if err := c.do(ctx, http.MethodPatch, "/api/tickets/"+id+"/branch", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateCost publishes the running LLM spend total.
func (c *Client) UpdateCost(ctx context.Context, id string, cost float64) (*ticket.Ticket, error) {
	var t ticket.Ticket
	body := map[string]float64{"cost": cost}
	if err := c.do(ctx, http.MethodPatch, "/api/tickets/"+id+"/cost", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// AddTask appends a task to the ticket's plan.
func (c *Client) AddTask(ctx context.Context, id string, task ticket.Task) (*ticket.Ticket, error) {
	var t ticket.Ticket
	body := map[string]ticket.Task{"task": task}
	if err := c.do(ctx, http.MethodPost, "/api/tickets/"+id+"/tasks", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// AddSubtask appends a subtask to the given task.
func (c *Client) AddSubtask(ctx context.Context, id, taskID string, sub ticket.Subtask) (*ticket.Ticket, error) {
	var t ticket.Ticket
	body := map[string]ticket.Subtask{"subtask": sub}
	path := fmt.Sprintf("/api/tickets/%s/tasks/%s/subtasks", id, taskID)
	if err := c.do(ctx, http.MethodPost, path, body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateSubtaskStatus sets the status of one subtask.
func (c *Client) UpdateSubtaskStatus(ctx context.Context, id, taskID, subtaskID string, status ticket.SubtaskStatus) (*ticket.Ticket, error) {
	var t ticket.Ticket
	body := map[string]string{"status": string(status)}
	path := fmt.Sprintf("/api/tickets/%s/tasks/%s/subtasks/%s", id, taskID, subtaskID)
	if err := c.do(ctx, http.MethodPatch, path, body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteAllTasks clears the ticket's plan so planning can restart.
func (c *Client) DeleteAllTasks(ctx context.Context, id string) (*ticket.Ticket, error) {
	var t ticket.Ticket
	if err := c.do(ctx, http.MethodDelete, "/api/tickets/"+id+"/tasks", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// AddActivity appends a line to the ticket's activity log.
func (c *Client) AddActivity(ctx context.Context, id, message string) error {
	body := map[string]string{"message": message}
	return c.do(ctx, http.MethodPost, "/api/tickets/"+id+"/activity", body, nil)
}

// GetPlanningConversation fetches the persisted planning conversation, if the
// server has one from a previous worker run.
func (c *Client) GetPlanningConversation(ctx context.Context, id string) (*convo.Snapshot, error) {
	var snap convo.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/tickets/"+id+"/conversations/planning", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
