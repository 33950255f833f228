// Copyright 2024-2026 Aiku AI

package resolver

import (
	"context"
	"fmt"
)

// PageFunc fetches one page of a cursor-paginated listing. An empty next
// cursor marks the last page.
type PageFunc[T any] func(ctx context.Context, cursor string) (items []T, next string, err error)

// LoadPages fetches every page of a listing, passing each record to merge in
// order. It stops only when the service returns an empty cursor, an error
// occurs or ctx is done, and returns the number of pages fetched.
func LoadPages[T any](ctx context.Context, fetch PageFunc[T], merge func(T)) (int, error) {
	var cursor string
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		items, next, err := fetch(ctx, cursor)
		if err != nil {
			return pages, fmt.Errorf("failed to fetch page %d: %w", pages+1, err)
		}
		pages++
		for _, item := range items {
			merge(item)
		}
		if next == "" {
			return pages, nil
		}
		cursor = next
	}
}
