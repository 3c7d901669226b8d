// Package supervisor owns the worker lifecycle for one ticket: it connects
// the hub push channel, waits for the ticket to become active, prepares the
// repository checkout and runs the orchestrator inside a cancellable
// active-work scope. When the ticket leaves the active status the scope is
// cancelled and the supervisor goes back to waiting.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"agentd/pkg/api"
	"agentd/pkg/config"
	"agentd/pkg/convo"
	"agentd/pkg/eventlog"
	"agentd/pkg/hub"
	"agentd/pkg/llm"
	"agentd/pkg/logx"
	"agentd/pkg/orch"
	"agentd/pkg/ticket"
	"agentd/pkg/workspace"
)

// EventLogFilename is the event database created next to the settings file.
const EventLogFilename = "events.db"

// fetchRetryDelay paces ticket re-fetches after a transient API failure.
const fetchRetryDelay = 5 * time.Second

// pushTimeout bounds the closing commit-and-push of an active-work scope.
const pushTimeout = 2 * time.Minute

// Options are the worker's startup coordinates.
type Options struct {
	TicketID  string
	ServerURL string
	RepoDir   string // checkout root the agent works in
	ConfigDir string // holds settings.json, prompts/ and the event log
}

// Supervisor runs the worker for one ticket.
type Supervisor struct {
	opts     Options
	settings *config.Settings
	prompts  *config.Prompts
	api      *api.Client
	hub      *hub.Client
	events   *eventlog.Log
	logger   *logx.Logger

	planningPublished bool
}

// New loads configuration and prompts and builds an unconnected supervisor.
func New(opts Options, logger *logx.Logger) (*Supervisor, error) {
	if opts.TicketID == "" {
		return nil, errors.New("ticket id is required")
	}
	if opts.ServerURL == "" {
		return nil, errors.New("server url is required")
	}

	settings, err := config.Load(opts.ConfigDir)
	if err != nil {
		return nil, err
	}
	logx.SetJSONOutput(settings.JSONLogging)
	prompts, err := config.LoadPrompts(filepath.Join(opts.ConfigDir, "prompts"))
	if err != nil {
		return nil, err
	}
	events, err := eventlog.Open(filepath.Join(opts.ConfigDir, EventLogFilename), logger.WithComponent("eventlog"))
	if err != nil {
		return nil, err
	}

	return &Supervisor{
		opts:     opts,
		settings: settings,
		prompts:  prompts,
		api:      api.NewClient(opts.ServerURL),
		hub:      hub.NewClient(HubURL(opts.ServerURL), opts.TicketID, logger.WithComponent("hub")),
		events:   events,
		logger:   logger,
	}, nil
}

// HubURL derives the websocket endpoint from the HTTP server URL.
func HubURL(serverURL string) string {
	url := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws"
}

// Run connects the hub and serves the ticket until ctx ends. Activations may
// come and go; one Run call survives any number of active-work scopes.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.hub.Connect(ctx); err != nil {
		return fmt.Errorf("hub connection failed: %w", err)
	}
	defer s.hub.Close()
	defer s.events.Close()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t, err := s.api.GetTicket(ctx, s.opts.TicketID)
		if err != nil {
			var nf *api.NotFoundError
			if errors.As(err, &nf) {
				s.logger.Info("ticket %s does not exist yet, waiting", s.opts.TicketID)
				if err := s.hub.WaitForTicketChange(ctx); err != nil {
					return err
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("ticket fetch failed, retrying: %v", err)
			if !sleepCtx(ctx, fetchRetryDelay) {
				return ctx.Err()
			}
			continue
		}

		s.publishPlanningBootstrap(ctx, t)

		if t.Status == ticket.StatusActive {
			s.runActiveScope(ctx, t)
			continue
		}

		s.logger.Info("ticket %s is %s, waiting for activation", t.ID, t.Status)
		if err := s.hub.WaitForTicketChange(ctx); err != nil {
			return err
		}
	}
}

// runActiveScope executes one activation: workspace bootstrap, the agent
// phases, and the closing commit-and-push. The scope's context is cancelled by
// the hub when the ticket leaves the active status.
func (s *Supervisor) runActiveScope(ctx context.Context, t *ticket.Ticket) {
	scopeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.hub.SetActiveCancel(cancel)
	defer s.hub.SetActiveCancel(nil)

	s.logger.Info("ticket %s is active, starting work", t.ID)

	ws := workspace.New(s.opts.RepoDir, s.settings.GitConfig, s.logger.WithComponent("workspace"))
	if err := ws.Prepare(scopeCtx, t.ID); err != nil {
		if scopeCtx.Err() != nil {
			s.logger.Info("workspace bootstrap cancelled for %s", t.ID)
			return
		}
		s.failTicket(ctx, t.ID, fmt.Sprintf("workspace bootstrap failed: %v", err))
		return
	}
	if _, err := s.api.UpdateBranch(scopeCtx, t.ID, workspace.BranchName(t.ID)); err != nil {
		s.logger.Warn("failed to publish branch name for %s: %v", t.ID, err)
	}

	chain := llm.NewChain(s.settings.LLMConfigs, s.logger.WithComponent("llm"))
	holder := ticket.NewHolder(t)
	o := orch.New(s.api, chain, holder, s.hub, s.events, s.prompts, s.settings, s.logger.WithComponent("orch"))

	if err := o.StartAgents(scopeCtx, t, ws.Root()); err != nil {
		if scopeCtx.Err() != nil {
			s.logger.Info("active work for %s cancelled: %v", t.ID, err)
		} else {
			s.logger.Error("run for %s failed: %v", t.ID, err)
		}
	}

	// The scope context may already be cancelled; the push gets its own.
	pushCtx, pushCancel := context.WithTimeout(context.Background(), pushTimeout)
	defer pushCancel()
	if err := ws.CommitAndPush(pushCtx, t.ID, fmt.Sprintf("Ticket %s: %s", t.ID, t.Title)); err != nil {
		s.logger.Warn("closing commit for %s failed: %v", t.ID, err)
	}
}

// publishPlanningBootstrap mirrors an initial planning conversation to the hub
// once, so the board can show the chat surface before the ticket is activated.
// A conversation the server already persisted wins.
func (s *Supervisor) publishPlanningBootstrap(ctx context.Context, t *ticket.Ticket) {
	if s.planningPublished {
		return
	}
	s.planningPublished = true

	if snap, err := s.api.GetPlanningConversation(ctx, t.ID); err == nil && len(snap.Messages) > 0 {
		return
	}
	c := convo.New(orch.PlanningConversationID,
		s.prompts.Render(config.PromptPlanning, s.opts.RepoDir, t.ID), nil)
	s.hub.SyncConversation(c.Snapshot())
}

// failTicket marks the ticket failed for errors that happen before the
// orchestrator owns the run.
func (s *Supervisor) failTicket(ctx context.Context, id, reason string) {
	s.logger.Error("worker failed for %s: %s", id, reason)
	if err := s.api.AddActivity(ctx, id, "Worker failed: "+reason); err != nil {
		s.logger.Warn("failed to add failure activity: %v", err)
	}
	if _, err := s.api.UpdateStatus(ctx, id, ticket.StatusFailed); err != nil {
		s.logger.Warn("failed to mark ticket failed: %v", err)
	}
	s.events.Append(ctx, id, eventlog.KindRunFinished, "failed")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
