package store

import (
	"context"
	"fmt"

	"github.com/iurnickita/keyvend/internal/model"
)

func (store *store) EventRecord(ctx context.Context, event model.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = store.clock.Now()
	}
	_, err := store.exec(ctx,
		"INSERT INTO events (kind, order_id, buyer_id, details, created_at)"+
			" VALUES ($1, $2, $3, $4, $5)",
		event.Kind,
		event.OrderID,
		event.BuyerID,
		event.Details,
		event.CreatedAt)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

func (store *store) EventList(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := store.query(ctx,
		"SELECT id, kind, order_id, buyer_id, details, created_at"+
			" FROM events"+
			" ORDER BY id DESC"+
			" LIMIT $1",
		limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var events []model.Event
	for rows.Next() {
		var event model.Event
		err := rows.Scan(&event.ID,
			&event.Kind,
			&event.OrderID,
			&event.BuyerID,
			&event.Details,
			&event.CreatedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
