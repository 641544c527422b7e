package grpc

import (
	"context"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// InventoryServiceName is the fully qualified gRPC service name.
const InventoryServiceName = "storefront.inventory.v1.InventoryService"

const (
	getStockMethod = "/" + InventoryServiceName + "/GetStock"
	setStockMethod = "/" + InventoryServiceName + "/SetStock"
)

// InventoryServer is the server API for the inventory service. Messages are
// google.protobuf.Struct documents:
//
//	GetStock  {"variants":[{"product_id":1,"size":"M"}]} -> {"stocks":[{...}]}
//	SetStock  {"product_id":1,"size":"M","quantity":10}  -> {"product_id":1,...}
type InventoryServer interface {
	GetStock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetStock(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterInventoryServer(s gogrpc.ServiceRegistrar, srv InventoryServer) {
	s.RegisterService(&InventoryServiceDesc, srv)
}

var InventoryServiceDesc = gogrpc.ServiceDesc{
	ServiceName: InventoryServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []gogrpc.MethodDesc{
		{
			MethodName: "GetStock",
			Handler:    getStockHandler,
		},
		{
			MethodName: "SetStock",
			Handler:    setStockHandler,
		},
	},
	Streams:  []gogrpc.StreamDesc{},
	Metadata: "storefront/inventory/v1/inventory.proto",
}

func getStockHandler(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).GetStock(ctx, in)
	}
	info := &gogrpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: getStockMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).GetStock(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func setStockHandler(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).SetStock(ctx, in)
	}
	info := &gogrpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: setStockMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).SetStock(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
