package ports

import (
	"context"

	"cdnpulse/internal/core/domain"
)

// HistoryStore is a key-bounded list store. Push prepends, so index 0 is
// always the newest entry.
type HistoryStore interface {
	Push(ctx context.Context, key string, value []byte) error
	TrimTo(ctx context.Context, key string, start, stop int64) error
	Range(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// HistoryMirror copies recorded snapshots into durable storage off the
// recording path.
type HistoryMirror interface {
	Enqueue(snapshot domain.FleetSnapshot) bool
	ReadRecent(ctx context.Context, n int) ([]domain.FleetSnapshot, error)
}
