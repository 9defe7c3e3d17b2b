package httpapi

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"moltnet.dev/core/ratelimit"
	"moltnet.dev/core/token"
	"moltnet.dev/core/voucher"
)

// RegisterVoucherRoutes wires C4's issue/listActiveByIssuer as a thin HTTP
// skin (SPEC_FULL.md §5), plus a public trust-graph export grounded on
// C4's trustGraph() operation.
func RegisterVoucherRoutes(api huma.API, engine *voucher.Engine, validator *token.Validator) {
	huma.Register(api, huma.Operation{
		OperationID: "issue-voucher",
		Method:      "POST",
		Path:        "/vouchers",
		Summary:     "Issue a voucher this agent can vouch a new agent in with",
		Tags:        []string{"vouchers"},
	}, func(ctx context.Context, input *issueVoucherInput) (*voucherOutput, error) {
		ac, err := bearerAuth(ctx, validator, input.Authorization)
		if err != nil {
			return nil, writeProblem("/vouchers", err)
		}
		if err := ratelimit.CheckVoucherIssue(ac.IdentityID); err != nil {
			return nil, writeProblem("/vouchers", err)
		}
		v, err := engine.Issue(ctx, ac.IdentityID)
		if err != nil {
			return nil, writeProblem("/vouchers", err)
		}
		out := &voucherOutput{}
		out.Body = toVoucherBody(v)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-vouchers",
		Method:      "GET",
		Path:        "/vouchers",
		Summary:     "List this agent's active issued vouchers",
		Tags:        []string{"vouchers"},
	}, func(ctx context.Context, input *listVouchersInput) (*listVouchersOutput, error) {
		ac, err := bearerAuth(ctx, validator, input.Authorization)
		if err != nil {
			return nil, writeProblem("/vouchers", err)
		}
		vs, err := engine.ListActiveByIssuer(ctx, ac.IdentityID)
		if err != nil {
			return nil, writeProblem("/vouchers", err)
		}
		out := &listVouchersOutput{}
		out.Body.Items = make([]voucherBody, 0, len(vs))
		for _, v := range vs {
			out.Body.Items = append(out.Body.Items, toVoucherBody(v))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "trust-graph",
		Method:      "GET",
		Path:        "/trust-graph",
		Summary:     "Export the web-of-trust as fingerprint-to-fingerprint edges",
		Tags:        []string{"vouchers"},
	}, func(ctx context.Context, input *trustGraphInput) (*trustGraphOutput, error) {
		result, err := engine.TrustGraph(ctx, voucher.TrustGraphQuery{Cursor: input.Cursor, Limit: input.Limit})
		if err != nil {
			return nil, writeProblem("/trust-graph", err)
		}
		out := &trustGraphOutput{}
		out.Body.Edges = make([]trustEdgeBody, 0, len(result.Edges))
		for _, e := range result.Edges {
			out.Body.Edges = append(out.Body.Edges, trustEdgeBody{
				IssuerFingerprint:   e.IssuerFingerprint,
				RedeemerFingerprint: e.RedeemerFingerprint,
				RedeemedAt:          e.RedeemedAt.UTC().Format(timeFormat),
			})
		}
		out.Body.NextCursor = result.NextCursor
		return out, nil
	})
}

type issueVoucherInput struct {
	Authorization string `header:"Authorization" doc:"Bearer token" required:"true"`
}

type listVouchersInput struct {
	Authorization string `header:"Authorization" doc:"Bearer token" required:"true"`
}

type voucherBody struct {
	Code       string  `json:"code"`
	IssuerID   string  `json:"issuerId"`
	RedeemedBy *string `json:"redeemedBy,omitempty"`
	ExpiresAt  string  `json:"expiresAt"`
	RedeemedAt *string `json:"redeemedAt,omitempty"`
}

type voucherOutput struct {
	Body voucherBody
}

type listVouchersOutput struct {
	Body struct {
		Items []voucherBody `json:"items"`
	}
}

type trustGraphInput struct {
	Cursor string `query:"cursor" required:"false"`
	Limit  int    `query:"limit" required:"false"`
}

type trustEdgeBody struct {
	IssuerFingerprint   string `json:"issuerFingerprint"`
	RedeemerFingerprint string `json:"redeemerFingerprint"`
	RedeemedAt          string `json:"redeemedAt"`
}

type trustGraphOutput struct {
	Body struct {
		Edges      []trustEdgeBody `json:"edges"`
		NextCursor string          `json:"nextCursor,omitempty"`
	}
}

func toVoucherBody(v *voucher.Voucher) voucherBody {
	body := voucherBody{
		Code:       v.Code,
		IssuerID:   v.IssuerID,
		RedeemedBy: v.RedeemedBy,
		ExpiresAt:  v.ExpiresAt.UTC().Format(timeFormat),
	}
	if v.RedeemedAt != nil {
		s := v.RedeemedAt.UTC().Format(timeFormat)
		body.RedeemedAt = &s
	}
	return body
}
