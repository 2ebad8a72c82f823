// Package fleetclient wraps fleetforged's AdminAPI for CLI usage, adapted
// from the teacher's pkg/client.Client: a thin mTLS-dialed gRPC client with
// one method per operation, plus the same cached-certificate-under-$HOME
// flow the teacher's CLI uses, scoped down to the four AdminAPI methods
// (SubmitJob/GetJob/ListPools/CreatePool) this domain exposes instead of warren's
// 30-odd service/node/secret/volume surface.
package fleetclient

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/security"
)

// Client wraps an mTLS connection to fleetforged's AdminAPI.
type Client struct {
	conn *grpc.ClientConn
	api  proto.AdminAPIClient
}

// Dial connects to addr's AdminAPI, reusing a certificate cached at a
// previous Dial under ~/.fleetforge/certs/cli-<clientID> if one still has
// headroom before rotation; otherwise it enrolls with token (required on
// first use for a given clientID) and caches the result. Mirrors the
// teacher's NewClient/NewClientWithToken split collapsed into one call,
// since this domain's CLI has no separate "warren init" provisioning step.
func Dial(ctx context.Context, addr, clientID, token string) (*Client, error) {
	certDir, err := security.GetCertDir("cli", clientID)
	if err != nil {
		return nil, fmt.Errorf("resolve cert directory: %w", err)
	}

	tlsConfig, err := security.LoadCachedConfig(certDir)
	if err != nil {
		return nil, err
	}
	if tlsConfig == nil {
		if token == "" {
			return nil, fmt.Errorf("no cached certificate at %s and no join token given to enroll", certDir)
		}
		enrollCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		tlsConfig, err = security.EnrollAndCache(enrollCtx, addr, "cli", clientID, token, certDir)
		if err != nil {
			return nil, fmt.Errorf("enroll: %w", err)
		}
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, api: proto.NewAdminAPIClient(conn)}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// SubmitJob submits req to the queue.
func (c *Client) SubmitJob(ctx context.Context, req *proto.SubmitJobRequest) (*proto.SubmitJobResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.api.SubmitJob(ctx, req)
}

// GetJob fetches a job's current status by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*proto.JobInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.api.GetJob(ctx, &proto.GetJobRequest{ID: id})
	if err != nil {
		return nil, err
	}
	return resp.Job, nil
}

// CreatePool creates a pool from req.
func (c *Client) CreatePool(ctx context.Context, req *proto.CreatePoolRequest) (*proto.CreatePoolResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.api.CreatePool(ctx, req)
}

// ListPools lists every worker pool and its current counts.
func (c *Client) ListPools(ctx context.Context) ([]*proto.PoolInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.api.ListPools(ctx, &proto.ListPoolsRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Pools, nil
}
