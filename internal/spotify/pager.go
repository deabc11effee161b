package spotify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// PageFunc fetches one page of an offset-paginated endpoint and returns
// the decoded JSON payload.
type PageFunc func(ctx context.Context, limit, offset int) (map[string]any, error)

// Pager walks offset-based paginated API results to completion. Page
// fetches go through a shared rate limiter so a large collection cannot
// starve the rest of the account's calls.
type Pager struct {
	limit   int
	limiter *rate.Limiter
}

func NewPager(limit int, limiter *rate.Limiter) *Pager {
	return &Pager{
		limit:   limit,
		limiter: limiter,
	}
}

// All retrieves every item the endpoint reports, in received order.
func (p *Pager) All(ctx context.Context, fetch PageFunc, subLayer string) ([]any, error) {
	return p.Page(ctx, fetch, subLayer, 0)
}

// Page retrieves items until the endpoint-reported total is reached, or
// until maxItems when maxItems is positive. The pagination object is read
// from the subLayer key of the response when one is given. An endpoint
// reporting a zero total returns an empty sequence after a single fetch.
func (p *Pager) Page(ctx context.Context, fetch PageFunc, subLayer string, maxItems int) ([]any, error) {
	items := []any{}
	offset := 0
	total := -1
	if maxItems > 0 {
		total = maxItems
	}

	limit := p.limit
	if maxItems > 0 && maxItems < limit {
		limit = maxItems
	}

	for total < 0 || len(items) < total {
		layer, err := p.fetchLayer(ctx, fetch, subLayer, limit, offset)
		if err != nil {
			return nil, err
		}

		if total < 0 {
			total, err = intField(layer, "total")
			if err != nil {
				return nil, err
			}
		}

		current, _ := layer["items"].([]any)

		// Trim overshoot so a page crossing the total never
		// produces extra items.
		if delta := total - (len(items) + len(current)); delta < 0 {
			current = current[:len(current)+delta]
		}

		if len(current) == 0 {
			break
		}

		items = append(items, current...)
		offset = len(items)
	}

	return items, nil
}

// Count performs exactly one page fetch and returns the endpoint-reported
// total, avoiding full pagination when only a count is needed.
func (p *Pager) Count(ctx context.Context, fetch PageFunc, subLayer string) (int, error) {
	layer, err := p.fetchLayer(ctx, fetch, subLayer, 1, 0)
	if err != nil {
		return 0, err
	}

	return intField(layer, "total")
}

func (p *Pager) fetchLayer(ctx context.Context, fetch PageFunc, subLayer string, limit, offset int) (map[string]any, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	result, err := fetch(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	if subLayer == "" {
		return result, nil
	}

	layer, ok := result[subLayer].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("page response missing %q sub layer", subLayer)
	}

	return layer, nil
}

// intField reads a numeric field from a decoded JSON object, tolerating
// both float64 (decoded JSON) and int (hand-built fakes).
func intField(layer map[string]any, key string) (int, error) {
	switch v := layer[key].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("page response missing numeric %q field", key)
	}
}
