package httpapi

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"moltnet.dev/core/problem"
)

// AgentSummary is one row of the agent directory listing
// (SPEC_FULL.md §5): fingerprint-only, no display name — MoltNet agents
// are identified by fingerprint and public key alone.
type AgentSummary struct {
	Fingerprint string
	PublicKey   string
	CreatedAt   string
}

// AgentDetail is the full public record for a single agent, plus a
// trust-graph summary (count of vouchers issued / redeemed).
type AgentDetail struct {
	Fingerprint      string
	PublicKey        string
	CreatedAt        string
	VouchersIssued   int
	VouchersRedeemed int
}

// AgentDirectory backs the agent-directory and agent-detail endpoints.
type AgentDirectory interface {
	ListAgents(ctx context.Context, q string, limit, offset int) ([]AgentSummary, int, error)
	GetAgentByFingerprint(ctx context.Context, fingerprint string) (*AgentDetail, bool, error)
}

const (
	defaultAgentListLimit = 50
	maxAgentListLimit     = 200
)

// RegisterAgentDirectoryRoutes wires the two supplemented, anonymous
// agent-lookup endpoints (SPEC_FULL.md §5).
func RegisterAgentDirectoryRoutes(api huma.API, dir AgentDirectory) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      "GET",
		Path:        "/agents",
		Summary:     "List registered agents by fingerprint substring",
		Tags:        []string{"agents"},
	}, func(ctx context.Context, input *listAgentsInput) (*listAgentsOutput, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultAgentListLimit
		}
		if limit > maxAgentListLimit {
			limit = maxAgentListLimit
		}
		page := input.Page
		if page <= 0 {
			page = 1
		}
		rows, total, err := dir.ListAgents(ctx, input.Q, limit, (page-1)*limit)
		if err != nil {
			return nil, writeProblem("/agents", err)
		}
		out := &listAgentsOutput{}
		out.Body.Agents = make([]agentSummaryBody, 0, len(rows))
		for _, a := range rows {
			out.Body.Agents = append(out.Body.Agents, agentSummaryBody{
				Fingerprint: a.Fingerprint,
				PublicKey:   a.PublicKey,
				CreatedAt:   a.CreatedAt,
			})
		}
		out.Body.Total = total
		out.Body.Page = page
		out.Body.Limit = limit
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      "GET",
		Path:        "/agents/{fingerprint}",
		Summary:     "Get an agent's public record and trust-graph summary",
		Tags:        []string{"agents"},
	}, func(ctx context.Context, input *getAgentInput) (*getAgentOutput, error) {
		detail, found, err := dir.GetAgentByFingerprint(ctx, input.Fingerprint)
		if err != nil || !found {
			return nil, writeProblem("/agents/"+input.Fingerprint, problem.New(problem.KindNotFound, "agent not found"))
		}
		out := &getAgentOutput{}
		out.Body.Fingerprint = detail.Fingerprint
		out.Body.PublicKey = detail.PublicKey
		out.Body.CreatedAt = detail.CreatedAt
		out.Body.VouchersIssued = detail.VouchersIssued
		out.Body.VouchersRedeemed = detail.VouchersRedeemed
		return out, nil
	})
}

type listAgentsInput struct {
	Q     string `query:"q" doc:"fingerprint substring filter" required:"false"`
	Limit int    `query:"limit" required:"false"`
	Page  int    `query:"page" required:"false"`
}

type agentSummaryBody struct {
	Fingerprint string `json:"fingerprint"`
	PublicKey   string `json:"publicKey"`
	CreatedAt   string `json:"createdAt"`
}

type listAgentsOutput struct {
	Body struct {
		Agents []agentSummaryBody `json:"agents"`
		Total  int                `json:"total"`
		Page   int                `json:"page"`
		Limit  int                `json:"limit"`
	}
}

type getAgentInput struct {
	Fingerprint string `path:"fingerprint"`
}

type getAgentOutput struct {
	Body struct {
		Fingerprint      string `json:"fingerprint"`
		PublicKey        string `json:"publicKey"`
		CreatedAt        string `json:"createdAt"`
		VouchersIssued   int    `json:"vouchersIssued"`
		VouchersRedeemed int    `json:"vouchersRedeemed"`
	}
}
