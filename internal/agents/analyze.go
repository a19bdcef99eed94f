// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agents

import (
	"context"
	"fmt"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// Analyze runs one agent over bundle. Backend failures are returned as
// errors; an unparseable reply is not a failure and yields the parse_error
// finding instead.
func Analyze(ctx context.Context, agent Agent, backend Backend, bundle types.Bundle) (types.AgentResult, error) {
	req, err := BuildRequest(agent, bundle)
	if err != nil {
		return types.AgentResult{}, err
	}
	reply, err := backend.Complete(ctx, req)
	if err != nil {
		return types.AgentResult{}, fmt.Errorf("%s agent: %w", agent.Name, err)
	}
	return Parse(agent.Name, backend.Model(), reply), nil
}
