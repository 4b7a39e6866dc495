package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/sift-labs/sift/internal/agent/core"
	"github.com/sift-labs/sift/internal/executor"
)

// RegisterTools wires the catalog operations into the executor registry.
// Search tools read the index; the structural tools operate on the result
// set already carried in session state.
func RegisterTools(reg *executor.Registry, c *Catalog) error {
	descriptors := []*executor.ToolDescriptor{
		{
			Name:        "search_by_text",
			Description: "Relevance-ranked text search over the catalog",
			Category:    "search",
			Schema: `{
				"type": "object",
				"properties": {
					"query": {"type": "string", "minLength": 1},
					"limit": {"type": "number", "minimum": 1, "maximum": 100}
				},
				"required": ["query"]
			}`,
			Resources: executor.ResourceRequirements{NeedsIndex: true},
			Expect:    executor.ResultShape{List: true},
			Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
				text, _ := params["query"].(string)
				return c.SearchText(text, intParam(params, "limit", 25))
			},
		},
		{
			Name:        "search_by_category",
			Description: "All catalog entries in one category, best rated first",
			Category:    "search",
			Schema: `{
				"type": "object",
				"properties": {
					"category": {"type": "string", "minLength": 1},
					"limit":    {"type": "number", "minimum": 1, "maximum": 100}
				},
				"required": ["category"]
			}`,
			Resources: executor.ResourceRequirements{NeedsIndex: true},
			Expect:    executor.ResultShape{List: true, MinResults: 1},
			Fallbacks: []string{"search_by_text"},
			Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
				category, _ := params["category"].(string)
				results := c.SearchCategory(category, intParam(params, "limit", 25))
				if len(results) == 0 {
					return nil, core.NotFoundError{Kind: "category", Name: category}
				}
				return results, nil
			},
		},
		{
			Name:        "filter_by_price",
			Description: "Keep results within a price bound and optional tier",
			Category:    "filter",
			Schema: `{
				"type": "object",
				"properties": {
					"max_price":    {"type": "number", "minimum": 0},
					"pricing_tier": {"type": "string", "enum": ["free", "freemium", "paid"]}
				}
			}`,
			Resources: executor.ResourceRequirements{NeedsResults: true},
			Expect:    executor.ResultShape{List: true},
			Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
				maxPrice := -1.0
				if v, ok := params["max_price"].(float64); ok {
					maxPrice = v
				}
				tier, _ := params["pricing_tier"].(string)
				if maxPrice < 0 && tier == "" {
					return nil, core.ValidationError{Field: "parameters", Reason: "either max_price or pricing_tier is required"}
				}
				return FilterPrice(req.State.Results, maxPrice, tier), nil
			},
		},
		{
			Name:        "filter_by_features",
			Description: "Keep results carrying every requested feature tag",
			Category:    "filter",
			Schema: `{
				"type": "object",
				"properties": {
					"features": {"type": "array", "items": {"type": "string"}, "minItems": 1}
				},
				"required": ["features"]
			}`,
			Resources: executor.ResourceRequirements{NeedsResults: true},
			Expect:    executor.ResultShape{List: true},
			Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
				return FilterFeatures(req.State.Results, stringsParam(params, "features")), nil
			},
		},
		{
			Name:        "sort_by_field",
			Description: "Order results by price, rating, name, or score",
			Category:    "transform",
			Schema: `{
				"type": "object",
				"properties": {
					"field": {"type": "string", "enum": ["price", "rating", "name", "score"]},
					"order": {"type": "string", "enum": ["asc", "desc"]},
					"limit": {"type": "number", "minimum": 1}
				},
				"required": ["field"]
			}`,
			Resources: executor.ResourceRequirements{NeedsResults: true},
			Expect:    executor.ResultShape{List: true},
			Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
				field, _ := params["field"].(string)
				order, _ := params["order"].(string)
				return SortByField(req.State.Results, field, order, intParam(params, "limit", 0)), nil
			},
		},
		{
			Name:        "group_by_category",
			Description: "Bucket the current results by category",
			Category:    "transform",
			Schema:      `{"type": "object", "properties": {}}`,
			Resources:   executor.ResourceRequirements{NeedsResults: true},
			Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
				return GroupByCategory(req.State.Results), nil
			},
		},
		{
			Name:        "count_results",
			Description: "Count the current results, optionally per category",
			Category:    "transform",
			Schema: `{
				"type": "object",
				"properties": {
					"category": {"type": "string"}
				}
			}`,
			Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
				category, _ := params["category"].(string)
				if category == "" {
					return len(req.State.Results), nil
				}
				n := 0
				for _, r := range req.State.Results {
					if strings.EqualFold(r.Category, category) {
						n++
					}
				}
				return n, nil
			},
		},
		{
			Name:        "get_details",
			Description: "Full catalog entry for one tool by ID or name",
			Category:    "lookup",
			Schema: `{
				"type": "object",
				"properties": {
					"id": {"type": "string", "minLength": 1}
				},
				"required": ["id"]
			}`,
			Resources: executor.ResourceRequirements{NeedsIndex: true},
			Expect:    executor.ResultShape{List: true, MinResults: 1},
			Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
				id, _ := params["id"].(string)
				if entry, ok := c.Get(id); ok {
					return []core.Result{entry}, nil
				}
				// Names are what users actually type.
				matches, err := c.SearchText(id, 1)
				if err != nil || len(matches) == 0 {
					return nil, core.NotFoundError{Kind: "catalog entry", Name: id}
				}
				return matches[:1], nil
			},
		},
	}

	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return fmt.Errorf("registering %s: %w", d.Name, err)
		}
	}
	return nil
}

func intParam(params map[string]interface{}, key string, def int) int {
	if v, ok := params[key].(float64); ok {
		return int(v)
	}
	return def
}

func stringsParam(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
