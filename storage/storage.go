package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"grafsys/domain"
)

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// Config names the tables and queue used by Storage.
type Config struct {
	ConnectionString string
	OrdersTable      string
	ProductsTable    string
	CategoriesTable  string
	EmployeesTable   string
	CommandQueue     string
	// QueryLimit caps QueryTrackedOrders. Zero means no cap.
	QueryLimit int
}

// Storage provides access to the order tables and the command queue.
type Storage struct {
	orders       tableClient
	products     tableClient
	categories   tableClient
	employees    tableClient
	commandQueue queueClient
	queryLimit   int
}

// New creates a Storage instance from the given configuration.
func New(cfg Config) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(cfg.ConnectionString, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, cfg.CommandQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		orders:       svc.NewClient(cfg.OrdersTable),
		products:     svc.NewClient(cfg.ProductsTable),
		categories:   svc.NewClient(cfg.CategoriesTable),
		employees:    svc.NewClient(cfg.EmployeesTable),
		commandQueue: cq,
		queryLimit:   cfg.QueryLimit,
	}, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// quote escapes s for use inside an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func listEntities(ctx context.Context, client tableClient, filter string, fn func([]byte) error) error {
	opts := &aztables.ListEntitiesOptions{}
	if filter != "" {
		opts.Filter = &filter
	}
	pager := client.NewListEntitiesPager(opts)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, e := range resp.Entities {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Storage) listOrders(ctx context.Context, filter string) ([]domain.Order, error) {
	orders := []domain.Order{}
	err := listEntities(ctx, s.orders, filter, func(data []byte) error {
		var ent domain.OrderEntity
		if err := json.Unmarshal(data, &ent); err != nil {
			return err
		}
		o, err := ent.Order()
		if err != nil {
			return err
		}
		orders = append(orders, o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(orders, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return orders, nil
}

// QueryTrackedOrders returns the orders shown on the board, newest first,
// capped at the configured limit.
func (s *Storage) QueryTrackedOrders(ctx context.Context) ([]domain.Order, error) {
	filter := "PartitionKey eq " + quote(domain.OrderPartition) + " and Status ne " + quote(string(domain.StatusCancelled))
	orders, err := s.listOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	tracked := orders[:0]
	for _, o := range orders {
		if o.Status.Tracked() {
			tracked = append(tracked, o)
		}
	}
	if s.queryLimit > 0 && len(tracked) > s.queryLimit {
		tracked = tracked[:s.queryLimit]
	}
	return tracked, nil
}

// ListSellerOrders returns every order attributed to sellerID, newest first.
func (s *Storage) ListSellerOrders(ctx context.Context, sellerID string) ([]domain.Order, error) {
	filter := "PartitionKey eq " + quote(domain.OrderPartition) + " and SellerId eq " + quote(sellerID)
	return s.listOrders(ctx, filter)
}

// GetOrder retrieves an order row if present.
func (s *Storage) GetOrder(ctx context.Context, id string) (*domain.OrderEntity, error) {
	resp, err := s.orders.GetEntity(ctx, domain.OrderPartition, id, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	var ent domain.OrderEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	ent.ETag = string(resp.ETag)
	return &ent, nil
}

// InsertOrder adds a new order row.
func (s *Storage) InsertOrder(ctx context.Context, ent domain.OrderEntity) error {
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.orders.AddEntity(ctx, payload, nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return domain.ErrOrderExists
		}
		return err
	}
	return nil
}

// ReplaceOrder overwrites an order row if its etag still matches.
func (s *Storage) ReplaceOrder(ctx context.Context, ent domain.OrderEntity) error {
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	etag := azcore.ETagAny
	if ent.ETag != "" {
		etag = azcore.ETag(ent.ETag)
	}
	_, err = s.orders.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	switch statusCode(err) {
	case 0:
		return err
	case http.StatusPreconditionFailed:
		return domain.ErrConcurrencyConflict
	case http.StatusNotFound:
		return domain.ErrOrderNotFound
	}
	return err
}

// DeleteOrder removes an order row. Deleting a missing order succeeds.
func (s *Storage) DeleteOrder(ctx context.Context, id string) error {
	etag := azcore.ETagAny
	_, err := s.orders.DeleteEntity(ctx, domain.OrderPartition, id, &aztables.DeleteEntityOptions{IfMatch: &etag})
	if err != nil && statusCode(err) != http.StatusNotFound {
		return err
	}
	return nil
}

// ListProducts returns the product catalog keyed by product id.
func (s *Storage) ListProducts(ctx context.Context) (map[string]domain.ProductEntity, error) {
	products := map[string]domain.ProductEntity{}
	err := listEntities(ctx, s.products, "", func(data []byte) error {
		var ent domain.ProductEntity
		if err := json.Unmarshal(data, &ent); err != nil {
			return err
		}
		products[ent.RowKey] = ent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// ListCategories returns the product categories keyed by category id.
func (s *Storage) ListCategories(ctx context.Context) (map[string]domain.CategoryEntity, error) {
	categories := map[string]domain.CategoryEntity{}
	err := listEntities(ctx, s.categories, "", func(data []byte) error {
		var ent domain.CategoryEntity
		if err := json.Unmarshal(data, &ent); err != nil {
			return err
		}
		categories[ent.RowKey] = ent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// GetEmployee retrieves an employee if present. Employees share one
// partition keyed by their id.
func (s *Storage) GetEmployee(ctx context.Context, id string) (*domain.EmployeeEntity, error) {
	resp, err := s.employees.GetEntity(ctx, "employee", id, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	var ent domain.EmployeeEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return &ent, nil
}

// EnqueueCommands sends the given commands to the command queue.
func (s *Storage) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	for _, cmd := range cmds {
		env := domain.CommandEnvelope{UserID: userID, Command: cmd}
		data, err := sonic.Marshal(env)
		if err != nil {
			return err
		}
		if _, err := s.commandQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}

// Dequeue retrieves a single message from the command queue.
func (s *Storage) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := s.commandQueue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// Delete removes a processed message from the command queue.
func (s *Storage) Delete(ctx context.Context, id, receipt string) error {
	_, err := s.commandQueue.DeleteMessage(ctx, id, receipt, nil)
	return err
}
