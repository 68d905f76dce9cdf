package vxlanapi

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
)

// VtepServiceHandler is implemented by the daemon.
type VtepServiceHandler interface {
	CreateInstance(context.Context, *connect.Request[CreateInstanceRequest]) (*connect.Response[CreateInstanceResponse], error)
	DestroyInstance(context.Context, *connect.Request[DestroyInstanceRequest]) (*connect.Response[DestroyInstanceResponse], error)
	ListInstances(context.Context, *connect.Request[ListInstancesRequest]) (*connect.Response[ListInstancesResponse], error)
	ShowInstance(context.Context, *connect.Request[ShowInstanceRequest]) (*connect.Response[ShowInstanceResponse], error)
	ListFDB(context.Context, *connect.Request[ListFDBRequest]) (*connect.Response[ListFDBResponse], error)
	FlushFDB(context.Context, *connect.Request[FlushFDBRequest]) (*connect.Response[FlushFDBResponse], error)
}

// NewVtepServiceHandler builds an HTTP handler for svc and returns the path
// to mount it on. The JSON codec is always installed; opts are appended.
func NewVtepServiceHandler(svc VtepServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateInstanceProcedure, connect.NewUnaryHandler(CreateInstanceProcedure, svc.CreateInstance, opts...))
	mux.Handle(DestroyInstanceProcedure, connect.NewUnaryHandler(DestroyInstanceProcedure, svc.DestroyInstance, opts...))
	mux.Handle(ListInstancesProcedure, connect.NewUnaryHandler(ListInstancesProcedure, svc.ListInstances, opts...))
	mux.Handle(ShowInstanceProcedure, connect.NewUnaryHandler(ShowInstanceProcedure, svc.ShowInstance, opts...))
	mux.Handle(ListFDBProcedure, connect.NewUnaryHandler(ListFDBProcedure, svc.ListFDB, opts...))
	mux.Handle(FlushFDBProcedure, connect.NewUnaryHandler(FlushFDBProcedure, svc.FlushFDB, opts...))

	return "/" + ServiceName + "/", mux
}

// VtepServiceClient is the client side of the VTEP service.
type VtepServiceClient interface {
	CreateInstance(context.Context, *connect.Request[CreateInstanceRequest]) (*connect.Response[CreateInstanceResponse], error)
	DestroyInstance(context.Context, *connect.Request[DestroyInstanceRequest]) (*connect.Response[DestroyInstanceResponse], error)
	ListInstances(context.Context, *connect.Request[ListInstancesRequest]) (*connect.Response[ListInstancesResponse], error)
	ShowInstance(context.Context, *connect.Request[ShowInstanceRequest]) (*connect.Response[ShowInstanceResponse], error)
	ListFDB(context.Context, *connect.Request[ListFDBRequest]) (*connect.Response[ListFDBResponse], error)
	FlushFDB(context.Context, *connect.Request[FlushFDBRequest]) (*connect.Response[FlushFDBResponse], error)
}

type vtepServiceClient struct {
	createInstance  *connect.Client[CreateInstanceRequest, CreateInstanceResponse]
	destroyInstance *connect.Client[DestroyInstanceRequest, DestroyInstanceResponse]
	listInstances   *connect.Client[ListInstancesRequest, ListInstancesResponse]
	showInstance    *connect.Client[ShowInstanceRequest, ShowInstanceResponse]
	listFDB         *connect.Client[ListFDBRequest, ListFDBResponse]
	flushFDB        *connect.Client[FlushFDBRequest, FlushFDBResponse]
}

// NewVtepServiceClient returns a client for the daemon at baseURL
// (for example "http://127.0.0.1:50052").
func NewVtepServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) VtepServiceClient {
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)

	return &vtepServiceClient{
		createInstance:  connect.NewClient[CreateInstanceRequest, CreateInstanceResponse](httpClient, baseURL+CreateInstanceProcedure, opts...),
		destroyInstance: connect.NewClient[DestroyInstanceRequest, DestroyInstanceResponse](httpClient, baseURL+DestroyInstanceProcedure, opts...),
		listInstances:   connect.NewClient[ListInstancesRequest, ListInstancesResponse](httpClient, baseURL+ListInstancesProcedure, opts...),
		showInstance:    connect.NewClient[ShowInstanceRequest, ShowInstanceResponse](httpClient, baseURL+ShowInstanceProcedure, opts...),
		listFDB:         connect.NewClient[ListFDBRequest, ListFDBResponse](httpClient, baseURL+ListFDBProcedure, opts...),
		flushFDB:        connect.NewClient[FlushFDBRequest, FlushFDBResponse](httpClient, baseURL+FlushFDBProcedure, opts...),
	}
}

func (c *vtepServiceClient) CreateInstance(ctx context.Context, req *connect.Request[CreateInstanceRequest]) (*connect.Response[CreateInstanceResponse], error) {
	return c.createInstance.CallUnary(ctx, req)
}

func (c *vtepServiceClient) DestroyInstance(ctx context.Context, req *connect.Request[DestroyInstanceRequest]) (*connect.Response[DestroyInstanceResponse], error) {
	return c.destroyInstance.CallUnary(ctx, req)
}

func (c *vtepServiceClient) ListInstances(ctx context.Context, req *connect.Request[ListInstancesRequest]) (*connect.Response[ListInstancesResponse], error) {
	return c.listInstances.CallUnary(ctx, req)
}

func (c *vtepServiceClient) ShowInstance(ctx context.Context, req *connect.Request[ShowInstanceRequest]) (*connect.Response[ShowInstanceResponse], error) {
	return c.showInstance.CallUnary(ctx, req)
}

func (c *vtepServiceClient) ListFDB(ctx context.Context, req *connect.Request[ListFDBRequest]) (*connect.Response[ListFDBResponse], error) {
	return c.listFDB.CallUnary(ctx, req)
}

func (c *vtepServiceClient) FlushFDB(ctx context.Context, req *connect.Request[FlushFDBRequest]) (*connect.Response[FlushFDBResponse], error) {
	return c.flushFDB.CallUnary(ctx, req)
}
