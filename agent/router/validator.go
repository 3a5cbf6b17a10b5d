package router

import (
	"context"

	contractx "github.com/voyagent/voyagent/agent/contract"
)

// ThresholdValidator declares the aggregate sufficient once it holds
// enough items or snippets, and escalates one tier at a time
// otherwise.
type ThresholdValidator struct {
	table       contractx.RoutingTable
	minItems    int
	minSnippets int
}

var _ contractx.SufficiencyValidator = (*ThresholdValidator)(nil)

func NewThresholdValidator(table contractx.RoutingTable, minItems, minSnippets int) *ThresholdValidator {
	if minItems < 1 {
		minItems = 3
	}
	if minSnippets < 1 {
		minSnippets = 2
	}
	return &ThresholdValidator{table: table, minItems: minItems, minSnippets: minSnippets}
}

func (v *ThresholdValidator) Assess(_ context.Context, req contractx.RouteRequest, agg contractx.RouterResult, tier int) contractx.Verdict {
	if len(agg.Items) >= v.minItems || len(agg.Snippets) >= v.minSnippets {
		return contractx.Sufficient()
	}
	if tier >= v.table.MaxTier(req.Intent) {
		return contractx.MaxTierReached()
	}
	return contractx.Escalate(tier + 1)
}
