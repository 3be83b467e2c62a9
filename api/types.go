package api

import (
	"context"

	"grafsys/board"
	"grafsys/domain"
)

const postCommandMaxSize = 64 * 1024 // 64 KiB

// BoardSource exposes the live board.
type BoardSource interface {
	Snapshot() *board.Snapshot
	Err() error
}

// Storage abstracts persistence for handlers.
type Storage interface {
	GetOrder(ctx context.Context, id string) (*domain.OrderEntity, error)
	GetEmployee(ctx context.Context, id string) (*domain.EmployeeEntity, error)
	EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error
}

// Catalog serves the reads behind seller statistics.
type Catalog interface {
	ListSellerOrders(ctx context.Context, sellerID string) ([]domain.Order, error)
	ListProducts(ctx context.Context) (map[string]domain.ProductEntity, error)
	ListCategories(ctx context.Context) (map[string]domain.CategoryEntity, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents enqueueing duplicate commands.
type Deduper interface {
	// AddMany records the keys and reports which ones were newly added.
	AddMany(ctx context.Context, userID string, keys []string) ([]bool, error)
	// Remove deletes previously added keys, used when enqueueing fails.
	Remove(ctx context.Context, userID string, keys ...string) error
}

// boardOrder is an order as shown on the board, with its live situation.
type boardOrder struct {
	domain.Order
	Situation domain.Situation `json:"situation"`
}

type boardColumn struct {
	Status domain.Status `json:"status"`
	Orders []boardOrder  `json:"orders"`
}

type boardResponse struct {
	Version uint64        `json:"version"`
	Columns []boardColumn `json:"columns"`
}

// POST /api/commands response body
type postCommandResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys,omitempty"`
	OrderIDs        []string `json:"orderIds,omitempty"`
	Duplicates      int      `json:"duplicates,omitempty"`
	Error           string   `json:"error,omitempty"`
}
