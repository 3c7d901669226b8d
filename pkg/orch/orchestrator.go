// Package orch drives the phased agent run for one ticket: planning first,
// then one developer conversation per subtask, each gated by a QA review.
package orch

import (
	"context"
	"errors"
	"fmt"

	"agentd/pkg/api"
	"agentd/pkg/config"
	"agentd/pkg/convo"
	"agentd/pkg/engine"
	"agentd/pkg/eventlog"
	"agentd/pkg/hub"
	"agentd/pkg/logx"
	"agentd/pkg/memory"
	"agentd/pkg/ticket"
	"agentd/pkg/tools"
)

// PlanningConversationID is the stable id of the ticket-lifetime planning
// conversation; per-subtask conversations derive their ids from the subtask.
const PlanningConversationID = "planning"

// Activity messages the control plane surfaces to the user.
const (
	activityPlanningComplete = "Planning complete."
	activityCostExceeded     = "Cost budget exceeded"
)

const qaNoVerdictFeedback = "Review ended without a verdict. Treating the work as not yet acceptable; please address any open concerns and finish the subtask again."

// Completer is the LLM surface the orchestrator wires into the engine, plus
// live settings swaps. Satisfied by *llm.Chain.
type Completer interface {
	engine.Completer
	SwapConfigs(configs []config.LLMConfig)
}

// Orchestrator runs the phase machine. One orchestrator serves one
// active-work scope and is discarded afterwards.
type Orchestrator struct {
	api      *api.Client
	chain    Completer
	holder   *ticket.Holder
	hub      *hub.Client
	events   *eventlog.Log
	prompts  *config.Prompts
	settings *config.Settings
	logger   *logx.Logger

	workDir   string
	memories  *memory.Memories
	engine    *engine.Engine
	compactor *engine.Compactor
}

// New creates an orchestrator. hubClient and events may be nil.
func New(apiClient *api.Client, chain Completer, holder *ticket.Holder, hubClient *hub.Client,
	events *eventlog.Log, prompts *config.Prompts, settings *config.Settings, logger *logx.Logger) *Orchestrator {
	return &Orchestrator{
		api:      apiClient,
		chain:    chain,
		holder:   holder,
		hub:      hubClient,
		events:   events,
		prompts:  prompts,
		settings: settings,
		logger:   logger,
		memories: memory.New(),
	}
}

// StartAgents runs the phase machine to completion: it returns nil after the
// ticket is marked done, a wrapped context error on cancellation (the ticket
// is left as-is), and a failure error after the ticket is marked failed.
func (o *Orchestrator) StartAgents(ctx context.Context, t *ticket.Ticket, workDir string) error {
	o.holder.Set(t)
	o.workDir = workDir

	o.compactor = engine.NewCompactor(o.chain, o.settings.Compaction, o.prompts, o.logger.WithComponent("compactor"))
	var publisher engine.Publisher
	if o.hub != nil {
		publisher = o.hub
	}
	o.engine = engine.New(o.chain, o.api, o.holder, o.compactor, publisher, o.settings.MaxIterations, o.logger.WithComponent("engine"))

	o.record(ctx, eventlog.KindRunStarted, "")

	if err := o.runPlanning(ctx, t); err != nil {
		return err
	}

	for {
		sub := o.nextSubtask()
		if sub == nil {
			break
		}
		if err := o.runSubtask(ctx, sub); err != nil {
			return err
		}
	}

	if _, err := o.api.UpdateStatus(ctx, t.ID, ticket.StatusDone); err != nil {
		return fmt.Errorf("failed to mark ticket done: %w", err)
	}
	o.record(ctx, eventlog.KindRunFinished, "done")
	return nil
}

// toolContext builds the shared tool context for a conversation role.
func (o *Orchestrator) toolContext(subtaskID string) *tools.Context {
	t := o.holder.Get()
	tc := &tools.Context{
		WorkDir:   o.workDir,
		TicketID:  t.ID,
		API:       o.api,
		Holder:    o.holder,
		Memories:  o.memories,
		SubtaskID: subtaskID,
		Web:       o.settings.WebSearch,
		Logger:    o.logger.WithComponent("tools"),
	}
	tc.RunSubagent = engine.NewSubagentRunner(o.chain, o.api, o.holder, tc,
		o.prompts.Render(config.PromptSubagent, o.workDir, t.ID), o.logger)
	return tc
}

// runPlanning drives the planning conversation until the model declares the
// plan complete and the plan actually validates.
func (o *Orchestrator) runPlanning(ctx context.Context, t *ticket.Ticket) error {
	o.record(ctx, eventlog.KindPhaseStarted, "planning")
	tc := o.toolContext("")
	registry := tools.PlanningRegistry(tc)
	defer o.closeToolContext(tc)

	c := o.restoreOrNewPlanning(ctx, t)

	for {
		o.drainInbox(c)
		res := o.engine.Continue(ctx, c, registry, 0)
		switch res.Reason {
		case engine.ExitToolRequested:
			if res.FinalTool != tools.ToolPlanningComplete {
				c.AddUser("That tool does not finish planning. Use planning_complete once the plan is in place.")
				continue
			}
			if !o.holder.Get().HasValidPlan() {
				c.AddUser("The plan is not valid yet: every task needs at least one subtask. Fix the plan, then call planning_complete again.")
				continue
			}
			o.addActivity(ctx, activityPlanningComplete)
			o.record(ctx, eventlog.KindPhaseFinished, "planning")
			o.finishConversation(c)
			return nil
		case engine.ExitCompleted:
			c.AddUser("You ended your turn without a tool call. Continue planning; call planning_complete when the plan is in place.")
		case engine.ExitMaxIterations:
			c.Iterations = 0
			c.AddUser("You have used many turns. Wrap the plan up; call planning_complete when it is in place.")
		case engine.ExitCostExceeded:
			return o.failTicket(ctx, activityCostExceeded)
		default:
			return o.handleEngineError(ctx, res)
		}
	}
}

// restoreOrNewPlanning resumes the server-held planning conversation when one
// exists, so a restarted worker keeps its planning context.
func (o *Orchestrator) restoreOrNewPlanning(ctx context.Context, t *ticket.Ticket) *convo.Conversation {
	system := o.prompts.Render(config.PromptPlanning, o.workDir, t.ID)
	c := convo.New(PlanningConversationID, system, o.memories)

	snap, err := o.api.GetPlanningConversation(ctx, t.ID)
	if err == nil && len(snap.Messages) > 1 {
		c.Messages = append([]convo.Message{}, snap.Messages...)
		o.logger.Info("resumed planning conversation with %d messages", len(snap.Messages))
		return c
	}
	var nf *api.NotFoundError
	if err != nil && !errors.As(err, &nf) {
		o.logger.Warn("could not fetch prior planning conversation: %v", err)
	}

	c.AddUser(fmt.Sprintf("Ticket %s: %s\n\n%s\n\nExplore the repository and build a plan of tasks and subtasks, then call planning_complete.",
		t.ID, t.Title, t.Description))
	return c
}

// nextSubtask returns the first unresolved subtask in task order, or nil.
func (o *Orchestrator) nextSubtask() *ticket.Subtask {
	t := o.holder.Get()
	for i := range t.Tasks {
		for j := range t.Tasks[i].Subtasks {
			if t.Tasks[i].Subtasks[j].Status != ticket.SubtaskComplete {
				return &t.Tasks[i].Subtasks[j]
			}
		}
	}
	return nil
}

// runSubtask drives one developer conversation through the QA gate.
func (o *Orchestrator) runSubtask(ctx context.Context, sub *ticket.Subtask) error {
	t := o.holder.Get()
	task, _ := t.FindSubtask(sub.ID)
	o.record(ctx, eventlog.KindSubtaskStarted, sub.Name)

	if err := o.setSubtaskStatus(ctx, task.ID, sub.ID, ticket.SubtaskInProgress); err != nil {
		return err
	}

	tc := o.toolContext(sub.ID)
	registry := tools.DeveloperRegistry(tc)
	defer o.closeToolContext(tc)

	c := o.newDeveloperConversation(sub)
	stuck := 0

	for {
		o.drainInbox(c)
		res := o.engine.Continue(ctx, c, registry, 0)
		switch res.Reason {
		case engine.ExitToolRequested:
			if res.FinalTool != tools.ToolEndSubtask {
				c.AddUser("That tool does not finish the subtask. Use end_subtask when the work is done.")
				continue
			}
			if err := o.setSubtaskStatus(ctx, task.ID, sub.ID, ticket.SubtaskAwaitingReview); err != nil {
				return err
			}
			approved, feedback, err := o.runQA(ctx, sub, res.FinalDetail)
			if err != nil {
				return err
			}
			if approved {
				if err := o.setSubtaskStatus(ctx, task.ID, sub.ID, ticket.SubtaskComplete); err != nil {
					return err
				}
				o.addActivity(ctx, "Subtask completed: "+sub.Name)
				o.record(ctx, eventlog.KindSubtaskFinished, sub.Name)
				// Hoist anything worth keeping before the conversation dies.
				if err := o.compactor.CompactNow(ctx, c); err != nil {
					o.logger.Warn("post-subtask compaction failed: %v", err)
				}
				o.finishConversation(c)
				return nil
			}
			if err := o.setSubtaskStatus(ctx, task.ID, sub.ID, ticket.SubtaskRejected); err != nil {
				return err
			}
			o.addActivity(ctx, "QA rejected subtask: "+sub.Name)
			c.AddUser("The reviewer rejected the work:\n\n" + feedback + "\n\nAddress the feedback and call end_subtask again.")
		case engine.ExitCompleted, engine.ExitMaxIterations:
			if res.Reason == engine.ExitMaxIterations {
				c.Iterations = 0
			}
			stuck++
			switch {
			case stuck >= o.settings.StuckResetThreshold:
				o.logger.Warn("developer stuck on %s, resetting conversation", sub.Name)
				o.finishConversation(c)
				c = o.newDeveloperConversation(sub)
				stuck = 0
			case stuck >= o.settings.StuckNudgeThreshold:
				c.AddUser("Progress check: what remains for this subtask? Finish the work and call end_subtask, or explain what is blocking you and keep going.")
			default:
				c.AddUser("Continue working on the subtask. Call end_subtask when it is done.")
			}
		case engine.ExitCostExceeded:
			return o.failTicket(ctx, activityCostExceeded)
		default:
			return o.handleEngineError(ctx, res)
		}
	}
}

func (o *Orchestrator) newDeveloperConversation(sub *ticket.Subtask) *convo.Conversation {
	t := o.holder.Get()
	system := o.prompts.Render(config.PromptDeveloper, o.workDir, t.ID)
	c := convo.New("subtask-"+sub.ID, system, o.memories)
	c.AddUser(fmt.Sprintf("Implement this subtask, then call end_subtask with a summary.\n\nSubtask: %s\n%s", sub.Name, sub.Description))
	return c
}

// runQA reviews a finished subtask. Returns the verdict plus rejection
// feedback.
func (o *Orchestrator) runQA(ctx context.Context, sub *ticket.Subtask, summary string) (bool, string, error) {
	t := o.holder.Get()
	tc := o.toolContext(sub.ID)
	registry := tools.QARegistry(tc)
	defer o.closeToolContext(tc)

	system := o.prompts.Render(config.PromptQA, o.workDir, t.ID)
	c := convo.New("qa-"+sub.ID, system, o.memories)
	c.AddUser(fmt.Sprintf("Review the work for this subtask.\n\nSubtask: %s\n%s\n\nDeveloper's summary:\n%s\n\nVerify the work, then call approve_subtask or reject_subtask.",
		sub.Name, sub.Description, summary))

	nudged := false
	for {
		o.drainInbox(c)
		res := o.engine.Continue(ctx, c, registry, 0)
		switch res.Reason {
		case engine.ExitToolRequested:
			o.finishConversation(c)
			switch res.FinalTool {
			case tools.ToolApproveSubtask:
				return true, "", nil
			case tools.ToolRejectSubtask:
				return false, res.FinalDetail, nil
			default:
				return false, qaNoVerdictFeedback, nil
			}
		case engine.ExitCompleted, engine.ExitMaxIterations:
			if res.Reason == engine.ExitMaxIterations {
				c.Iterations = 0
			}
			if nudged {
				o.finishConversation(c)
				return false, qaNoVerdictFeedback, nil
			}
			nudged = true
			c.AddUser("Reach a verdict: call approve_subtask or reject_subtask.")
		case engine.ExitCostExceeded:
			o.finishConversation(c)
			return false, "Cost budget exceeded during review.", nil
		default:
			return false, "", o.handleEngineError(ctx, res)
		}
	}
}

// drainInbox injects pending user chat into the conversation and applies any
// clear requests before the next engine call.
func (o *Orchestrator) drainInbox(c *convo.Conversation) {
	if o.hub == nil {
		return
	}
	for {
		select {
		case msg := <-o.hub.GetChatQueue(c.ID):
			c.AddUser(msg.Text)
			continue
		default:
		}
		break
	}
	for {
		select {
		case ev := <-o.hub.GetClearQueue():
			if ev.ConversationID == c.ID {
				c.Clear()
				o.hub.ResetConversation(c.ID)
			}
			continue
		default:
		}
		break
	}
	for {
		select {
		case configs := <-o.hub.GetSettingsQueue():
			if len(configs) > 0 {
				o.logger.Info("swapping in %d updated LLM configs", len(configs))
				o.chain.SwapConfigs(configs)
			}
			continue
		default:
		}
		break
	}
}

func (o *Orchestrator) setSubtaskStatus(ctx context.Context, taskID, subtaskID string, status ticket.SubtaskStatus) error {
	t := o.holder.Get()
	updated, err := o.api.UpdateSubtaskStatus(ctx, t.ID, taskID, subtaskID, status)
	if err != nil {
		return fmt.Errorf("failed to set subtask %s to %s: %w", subtaskID, status, err)
	}
	o.holder.Set(updated)
	return nil
}

// handleEngineError distinguishes cancellation (ticket left as-is) from a
// fatal LLM failure (ticket marked failed).
func (o *Orchestrator) handleEngineError(ctx context.Context, res engine.Result) error {
	if ctx.Err() != nil {
		o.record(context.Background(), eventlog.KindRunFinished, "cancelled")
		return fmt.Errorf("active work cancelled: %w", ctx.Err())
	}
	reason := "LLM failure"
	if res.Err != nil {
		reason = res.Err.Error()
	}
	return o.failTicket(ctx, "Worker failed: "+reason)
}

// failTicket marks the ticket failed with the given activity message and
// returns the corresponding error.
func (o *Orchestrator) failTicket(ctx context.Context, message string) error {
	t := o.holder.Get()
	o.addActivity(ctx, message)
	if updated, err := o.api.UpdateStatus(ctx, t.ID, ticket.StatusFailed); err != nil {
		o.logger.Error("failed to mark ticket failed: %v", err)
	} else {
		o.holder.Set(updated)
	}
	o.record(ctx, eventlog.KindRunFinished, "failed")
	return fmt.Errorf("ticket %s failed: %s", t.ID, message)
}

func (o *Orchestrator) addActivity(ctx context.Context, message string) {
	t := o.holder.Get()
	if err := o.api.AddActivity(ctx, t.ID, message); err != nil {
		o.logger.Warn("failed to add activity %q: %v", message, err)
	}
	o.record(ctx, eventlog.KindActivity, message)
}

func (o *Orchestrator) record(ctx context.Context, kind, detail string) {
	if o.events == nil {
		return
	}
	o.events.Append(ctx, o.holder.Get().ID, kind, detail)
}

func (o *Orchestrator) finishConversation(c *convo.Conversation) {
	c.Finalize()
	if o.hub != nil {
		o.hub.SyncConversation(c.Snapshot())
		o.hub.FinishConversation(c.ID)
	}
}

func (o *Orchestrator) closeToolContext(tc *tools.Context) {
	if tc.Session != nil {
		tc.Session.Kill()
	}
}
