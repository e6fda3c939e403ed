package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/alpacahq/seriesdb/frontend"
	"github.com/alpacahq/seriesdb/replication"
)

// Client talks to the admin gRPC API of a seriesdb node.
type Client struct {
	cc *grpc.ClientConn
}

// NewClient initializes a new admin client for the node at addr.
// addr may be "host:port" or a URL with a host part.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	target, err := dialTarget(addr)
	if err != nil {
		return nil, err
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &Client{cc: cc}, nil
}

// NewClientConn wraps an established connection.
func NewClientConn(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func dialTarget(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("empty admin address")
	}
	if !strings.Contains(addr, "://") {
		return addr, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("admin address %q has no host", addr)
	}
	return u.Host, nil
}

func (cl *Client) Close() error {
	return cl.cc.Close()
}

func (cl *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return cl.cc.Invoke(ctx, "/"+frontend.AdminServiceName+"/"+method, req, resp,
		grpc.CallContentSubtype(replication.CodecName))
}

func (cl *Client) StartInitSync(ctx context.Context, db string, fresh bool) (frontend.SyncStatus, error) {
	resp := &frontend.InitSyncStatusResponse{}
	err := cl.invoke(ctx, "StartInitSync", &frontend.StartInitSyncRequest{Database: db, Fresh: fresh}, resp)
	if err != nil {
		return frontend.SyncStatus{}, err
	}
	return first(resp)
}

func (cl *Client) StopInitSync(ctx context.Context, db string) (frontend.SyncStatus, error) {
	resp := &frontend.InitSyncStatusResponse{}
	if err := cl.invoke(ctx, "StopInitSync", &frontend.StopInitSyncRequest{Database: db}, resp); err != nil {
		return frontend.SyncStatus{}, err
	}
	return first(resp)
}

// InitSyncStatus returns the status of db, or of every database when db is empty.
func (cl *Client) InitSyncStatus(ctx context.Context, db string) ([]frontend.SyncStatus, error) {
	resp := &frontend.InitSyncStatusResponse{}
	if err := cl.invoke(ctx, "InitSyncStatus", &frontend.InitSyncStatusRequest{Database: db}, resp); err != nil {
		return nil, err
	}
	return resp.Statuses, nil
}

func (cl *Client) CreateSeries(ctx context.Context, db, name string, tp uint8) (uint64, error) {
	resp := &frontend.CreateSeriesResponse{}
	req := &frontend.CreateSeriesRequest{Database: db, Name: name, Type: tp}
	if err := cl.invoke(ctx, "CreateSeries", req, resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func first(resp *frontend.InitSyncStatusResponse) (frontend.SyncStatus, error) {
	if len(resp.Statuses) == 0 {
		return frontend.SyncStatus{}, fmt.Errorf("empty status response")
	}
	return resp.Statuses[0], nil
}
