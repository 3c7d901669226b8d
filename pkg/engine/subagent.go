package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"agentd/pkg/api"
	"agentd/pkg/convo"
	"agentd/pkg/logx"
	"agentd/pkg/ticket"
	"agentd/pkg/tools"
)

// Sub-agents are deliberately short-lived; a delegated task that needs more
// turns than this belongs in the main conversation.
const subagentMaxIterations = 15

// NewSubagentRunner builds the runner injected into spawn_agent. Each spawned
// agent gets a fresh conversation, the restricted sub-agent tool set on a copy
// of the parent tool context, and no ability to recurse. Sub-agent turns are
// not mirrored to the hub.
func NewSubagentRunner(chain Completer, apiClient *api.Client, holder *ticket.Holder, parent *tools.Context, systemPrompt string, logger *logx.Logger) tools.SubagentRunner {
	return func(ctx context.Context, task string) (string, error) {
		tc := &tools.Context{
			WorkDir:  parent.WorkDir,
			TicketID: parent.TicketID,
			API:      parent.API,
			Holder:   parent.Holder,
			Memories: parent.Memories,
			Web:      parent.Web,
			Logger:   logger,
		}
		registry := tools.SubagentRegistry(tc)

		c := convo.New("subagent-"+uuid.NewString(), systemPrompt, parent.Memories)
		c.AddUser(task)

		sub := New(chain, apiClient, holder, nil, nil, subagentMaxIterations, logger.WithComponent("subagent"))
		res := sub.Continue(ctx, c, registry, 0)
		if tc.Session != nil {
			tc.Session.Kill()
		}

		switch res.Reason {
		case ExitCompleted:
			return res.Content, nil
		case ExitMaxIterations:
			return res.Content, fmt.Errorf("sub-agent hit its turn cap without finishing")
		case ExitCostExceeded:
			return "", fmt.Errorf("cost budget exceeded during sub-agent run")
		default:
			if res.Err != nil {
				return "", res.Err
			}
			return res.Content, nil
		}
	}
}
