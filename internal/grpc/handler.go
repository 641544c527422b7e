package grpc

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/inventory/store"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// InventoryServiceServer exposes stock reads and stock administration over gRPC.
type InventoryServiceServer struct {
	store   store.InventoryStore
	timeout time.Duration
}

func NewInventoryServiceServer(s store.InventoryStore, timeout time.Duration) *InventoryServiceServer {
	return &InventoryServiceServer{
		store:   s,
		timeout: timeout,
	}
}

var _ InventoryServer = (*InventoryServiceServer)(nil)

// GetStock returns stock levels for the requested variants; unknown variants are omitted.
func (s *InventoryServiceServer) GetStock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	list := req.GetFields()["variants"].GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return structpb.NewStruct(map[string]any{"stocks": []any{}})
	}

	variants := make([]domain.VariantID, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		id, err := variantFromFields(v.GetStructValue().GetFields())
		if err != nil {
			return nil, mapStoreError(err)
		}
		variants = append(variants, id)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stocks, err := s.store.GetStock(ctx, variants)
	if err != nil {
		return nil, mapStoreError(domain.StorageError("get stock", err))
	}

	out := make([]any, 0, len(stocks))
	for _, st := range stocks {
		out = append(out, stockFields(st))
	}
	return structpb.NewStruct(map[string]any{"stocks": out})
}

// SetStock sets the on-hand quantity and returns the resulting stock level.
func (s *InventoryServiceServer) SetStock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	id, err := variantFromFields(fields)
	if err != nil {
		return nil, mapStoreError(err)
	}
	quantity, err := int32Field(fields, "quantity")
	if err != nil {
		return nil, mapStoreError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.SetStock(ctx, id, quantity); err != nil {
		return nil, mapStoreError(domain.StorageError("set stock", err))
	}
	stocks, err := s.store.GetStock(ctx, []domain.VariantID{id})
	if err != nil {
		return nil, mapStoreError(domain.StorageError("get stock", err))
	}
	if len(stocks) == 0 {
		return nil, status.Errorf(codes.Internal, "stock for %s vanished after update", id)
	}
	return structpb.NewStruct(stockFields(stocks[0]))
}

func variantFromFields(fields map[string]*structpb.Value) (domain.VariantID, error) {
	productID, err := int64Field(fields, "product_id")
	if err != nil {
		return domain.VariantID{}, err
	}
	id := domain.VariantID{ProductID: productID, Size: fields["size"].GetStringValue()}
	if err := id.Validate(); err != nil {
		return domain.VariantID{}, err
	}
	return id, nil
}

func int64Field(fields map[string]*structpb.Value, name string) (int64, error) {
	v, ok := fields[name]
	if !ok {
		return 0, domain.NewValidationError(name, "is required")
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > 1<<53 {
		return 0, domain.NewValidationError(name, "must be an integer")
	}
	return int64(n.NumberValue), nil
}

func int32Field(fields map[string]*structpb.Value, name string) (int32, error) {
	n, err := int64Field(fields, name)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, domain.NewValidationError(name, "is out of range")
	}
	return int32(n), nil
}

func stockFields(s domain.StockInfo) map[string]any {
	return map[string]any{
		"product_id": s.Variant.ProductID,
		"size":       s.Variant.Size,
		"total":      s.Total,
		"reserved":   s.Reserved,
		"available":  s.Available(),
	}
}

// mapStoreError converts domain and store errors to gRPC status codes
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, store.ErrReservationExpired),
		errors.Is(err, store.ErrInvalidStatus):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrStorageTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "storage did not respond in time")
	case errors.Is(err, domain.ErrPersistFailure):
		return status.Error(codes.Unavailable, "storage unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
