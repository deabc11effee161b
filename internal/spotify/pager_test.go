package spotify

import (
	"context"
	"fmt"
	"testing"
)

// pagedFake serves a fixed item list page by page and counts fetches.
type pagedFake struct {
	items   []any
	fetches int
}

func (f *pagedFake) page(_ context.Context, limit, offset int) (map[string]any, error) {
	f.fetches++

	end := offset + limit
	if end > len(f.items) {
		end = len(f.items)
	}
	current := []any{}
	if offset < len(f.items) {
		current = f.items[offset:end]
	}

	return map[string]any{
		"total": len(f.items),
		"items": current,
	}, nil
}

func numberedItems(n int) []any {
	items := make([]any, n)
	for i := range items {
		items[i] = fmt.Sprintf("item-%d", i)
	}
	return items
}

func TestPagerAllPreservesOrder(t *testing.T) {
	fake := &pagedFake{items: numberedItems(12)}
	p := NewPager(5, nil)

	items, err := p.All(context.Background(), fake.page, "")
	if err != nil {
		t.Fatalf("All: %v", err)
	}

	if len(items) != 12 {
		t.Fatalf("len(items) = %d, want 12", len(items))
	}
	for i, item := range items {
		if item != fmt.Sprintf("item-%d", i) {
			t.Errorf("items[%d] = %v, out of order", i, item)
		}
	}
	if fake.fetches != 3 {
		t.Errorf("fetches = %d, want 3", fake.fetches)
	}
}

func TestPagerEmptyCollection(t *testing.T) {
	fake := &pagedFake{items: nil}
	p := NewPager(5, nil)

	items, err := p.All(context.Background(), fake.page, "")
	if err != nil {
		t.Fatalf("All: %v", err)
	}

	if len(items) != 0 {
		t.Errorf("len(items) = %d, want 0", len(items))
	}
	if fake.fetches != 1 {
		t.Errorf("fetches = %d, want 1", fake.fetches)
	}
}

func TestPagerMaxItemsTrimsOvershoot(t *testing.T) {
	fake := &pagedFake{items: numberedItems(20)}
	p := NewPager(8, nil)

	items, err := p.Page(context.Background(), fake.page, "", 10)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}

	if len(items) != 10 {
		t.Fatalf("len(items) = %d, want 10", len(items))
	}
	if items[9] != "item-9" {
		t.Errorf("items[9] = %v, want item-9", items[9])
	}
}

func TestPagerSubLayer(t *testing.T) {
	fake := &pagedFake{items: numberedItems(3)}
	wrapped := func(ctx context.Context, limit, offset int) (map[string]any, error) {
		layer, err := fake.page(ctx, limit, offset)
		if err != nil {
			return nil, err
		}
		return map[string]any{"playlists": layer}, nil
	}

	p := NewPager(5, nil)

	items, err := p.All(context.Background(), wrapped, "playlists")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("len(items) = %d, want 3", len(items))
	}
}

func TestPagerMissingSubLayer(t *testing.T) {
	fetch := func(_ context.Context, _, _ int) (map[string]any, error) {
		return map[string]any{"total": 0, "items": []any{}}, nil
	}

	p := NewPager(5, nil)

	if _, err := p.All(context.Background(), fetch, "playlists"); err == nil {
		t.Error("All() succeeded with missing sub layer, want error")
	}
}

func TestPagerCountSingleFetch(t *testing.T) {
	fake := &pagedFake{items: numberedItems(42)}
	p := NewPager(5, nil)

	count, err := p.Count(context.Background(), fake.page, "")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if count != 42 {
		t.Errorf("count = %d, want 42", count)
	}
	if fake.fetches != 1 {
		t.Errorf("fetches = %d, want 1", fake.fetches)
	}
}

func TestPagerFloat64Total(t *testing.T) {
	fetch := func(_ context.Context, _, _ int) (map[string]any, error) {
		return map[string]any{
			"total": float64(2),
			"items": []any{"a", "b"},
		}, nil
	}

	p := NewPager(5, nil)

	items, err := p.All(context.Background(), fetch, "")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}
}
