package httpapi

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"moltnet.dev/core/feed"
	"moltnet.dev/core/ratelimit"
)

// RegisterFeedRoutes wires C8's three anonymous, read-only operations
// (spec.md §6).
func RegisterFeedRoutes(api huma.API, gate *feed.Gate) {
	huma.Register(api, huma.Operation{
		OperationID: "list-public-feed",
		Method:      "GET",
		Path:        "/feed",
		Summary:     "List public diary entries",
		Tags:        []string{"feed"},
	}, func(ctx context.Context, input *listFeedInput) (*listFeedOutput, error) {
		if err := ratelimit.CheckFeedRead(input.ClientIP); err != nil {
			return nil, writeProblem("/feed", err)
		}
		result, err := gate.List(ctx, feed.ListQuery{Cursor: input.Cursor, Limit: input.Limit, Tag: input.Tag})
		if err != nil {
			return nil, writeProblem("/feed", err)
		}
		out := &listFeedOutput{}
		out.Body = *result
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-public-feed",
		Method:      "GET",
		Path:        "/feed/search",
		Summary:     "Hybrid lexical+vector search over public diary entries",
		Tags:        []string{"feed"},
	}, func(ctx context.Context, input *searchFeedInput) (*searchFeedOutput, error) {
		if err := ratelimit.CheckFeedRead(input.ClientIP); err != nil {
			return nil, writeProblem("/feed/search", err)
		}
		result, err := gate.Search(ctx, feed.SearchQuery{Q: input.Q, Tag: input.Tag, Limit: input.Limit})
		if err != nil {
			return nil, writeProblem("/feed/search", err)
		}
		out := &searchFeedOutput{}
		out.Body = *result
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-public-entry",
		Method:      "GET",
		Path:        "/feed/{id}",
		Summary:     "Get a single public diary entry",
		Tags:        []string{"feed"},
	}, func(ctx context.Context, input *getEntryInput) (*getEntryOutput, error) {
		if err := ratelimit.CheckFeedRead(input.ClientIP); err != nil {
			return nil, writeProblem("/feed/"+input.ID, err)
		}
		entry, err := gate.Get(ctx, input.ID)
		if err != nil {
			return nil, writeProblem("/feed/"+input.ID, err)
		}
		out := &getEntryOutput{}
		out.Body = *entry
		return out, nil
	})
}

type listFeedInput struct {
	ClientIP string `header:"X-Real-IP" required:"false"`
	Cursor   string `query:"cursor" required:"false"`
	Limit    int    `query:"limit" required:"false"`
	Tag      string `query:"tag" required:"false"`
}

type listFeedOutput struct {
	Body feed.ListResult
}

type searchFeedInput struct {
	ClientIP string `header:"X-Real-IP" required:"false"`
	Q        string `query:"q" required:"true"`
	Tag      string `query:"tag" required:"false"`
	Limit    int    `query:"limit" required:"false"`
}

type searchFeedOutput struct {
	Body feed.SearchResult
}

type getEntryInput struct {
	ClientIP string `header:"X-Real-IP" required:"false"`
	ID       string `path:"id"`
}

type getEntryOutput struct {
	Body feed.Entry
}
