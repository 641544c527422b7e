package grpc

import (
	"context"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// InventoryClient is a typed client for the inventory service.
type InventoryClient struct {
	cc gogrpc.ClientConnInterface
}

func NewInventoryClient(cc gogrpc.ClientConnInterface) *InventoryClient {
	return &InventoryClient{cc: cc}
}

func (c *InventoryClient) GetStock(ctx context.Context, variants []domain.VariantID) ([]domain.StockInfo, error) {
	list := make([]any, 0, len(variants))
	for _, v := range variants {
		list = append(list, map[string]any{"product_id": v.ProductID, "size": v.Size})
	}
	in, err := structpb.NewStruct(map[string]any{"variants": list})
	if err != nil {
		return nil, err
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getStockMethod, in, out); err != nil {
		return nil, fromStatus(err)
	}

	values := out.GetFields()["stocks"].GetListValue().GetValues()
	stocks := make([]domain.StockInfo, 0, len(values))
	for _, v := range values {
		stocks = append(stocks, stockFromFields(v.GetStructValue().GetFields()))
	}
	return stocks, nil
}

func (c *InventoryClient) SetStock(ctx context.Context, variant domain.VariantID, quantity int32) error {
	in, err := structpb.NewStruct(map[string]any{
		"product_id": variant.ProductID,
		"size":       variant.Size,
		"quantity":   quantity,
	})
	if err != nil {
		return err
	}
	if err := c.cc.Invoke(ctx, setStockMethod, in, new(structpb.Struct)); err != nil {
		return fromStatus(err)
	}
	return nil
}

func stockFromFields(f map[string]*structpb.Value) domain.StockInfo {
	return domain.StockInfo{
		Variant: domain.VariantID{
			ProductID: int64(f["product_id"].GetNumberValue()),
			Size:      f["size"].GetStringValue(),
		},
		Total:    int32(f["total"].GetNumberValue()),
		Reserved: int32(f["reserved"].GetNumberValue()),
	}
}

// fromStatus maps gRPC codes back onto the domain error categories.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w", st.Message(), domain.ErrValidation)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), domain.ErrNotFound)
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %w", st.Message(), domain.ErrInsufficientStock)
	case codes.Aborted:
		return fmt.Errorf("%s: %w", st.Message(), domain.ErrConcurrencyConflict)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", st.Message(), domain.ErrStorageTimeout)
	case codes.Unavailable:
		return fmt.Errorf("%s: %w", st.Message(), domain.ErrPersistFailure)
	default:
		return err
	}
}
