package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

func (b *sqlBackend) SaveChoices(ctx context.Context, address string, payloads []string) error {
	if len(payloads) == 0 {
		return b.ClearChoices(ctx, address)
	}
	data, err := json.Marshal(payloads)
	if err != nil {
		return fmt.Errorf("encode choices of %s: %w", address, err)
	}
	_, err = b.exec(ctx, `INSERT INTO keyboard_choices (address, payloads, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET payloads = excluded.payloads, updated_at = excluded.updated_at`,
		address, string(data), b.now())
	if err != nil {
		slog.Error(b.name+" SaveChoices failed", "error", err, "address", address)
		return fmt.Errorf("failed to save choices of %s: %w", address, err)
	}
	return nil
}

func (b *sqlBackend) GetChoices(ctx context.Context, address string) ([]string, error) {
	var data string
	err := b.queryRow(ctx, `SELECT payloads FROM keyboard_choices WHERE address = ?`, address).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load choices of %s: %w", address, err)
	}
	var payloads []string
	if err := json.Unmarshal([]byte(data), &payloads); err != nil {
		return nil, fmt.Errorf("failed to decode choices of %s: %w", address, err)
	}
	return payloads, nil
}

func (b *sqlBackend) ClearChoices(ctx context.Context, address string) error {
	if _, err := b.exec(ctx, `DELETE FROM keyboard_choices WHERE address = ?`, address); err != nil {
		return fmt.Errorf("failed to clear choices of %s: %w", address, err)
	}
	return nil
}
