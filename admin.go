// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	rpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

const (
	maxRetries    = 3
	retryBaseWait = 200 * time.Millisecond
)

// AdminService reports on an ORB over JSON-RPC. It has no mutating
// methods: the registry's read-only flag stays a local decision.
type AdminService struct {
	orb *ORB
}

type NoArgs struct{}

type NamesReply struct {
	Names []string `json:"names"`
}

// Names returns the names bound in the registry.
func (s *AdminService) Names(_ *http.Request, _ *NoArgs, reply *NamesReply) error {
	reply.Names = s.orb.Registry().Names()
	return nil
}

// Status returns a snapshot of the ORB.
func (s *AdminService) Status(_ *http.Request, _ *NoArgs, reply *Status) error {
	*reply = s.orb.Status()
	return nil
}

// NewAdminHandler serves the Admin service of o with the JSON-RPC 2.0
// codec.
func NewAdminHandler(o *ORB) (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	if err := server.RegisterService(&AdminService{orb: o}, "Admin"); err != nil {
		return nil, err
	}
	return server, nil
}

// AdminClient calls the Admin service of a remote ORB.
type AdminClient struct {
	uri    string
	logger *zap.Logger
}

func NewAdminClient(uri string, logger *zap.Logger) *AdminClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminClient{uri: uri, logger: logger.Named("admin")}
}

func (c *AdminClient) Names(ctx context.Context) ([]string, error) {
	var reply NamesReply
	if err := c.Call(ctx, "Admin.Names", &NoArgs{}, &reply); err != nil {
		return nil, err
	}
	return reply.Names, nil
}

func (c *AdminClient) Status(ctx context.Context) (*Status, error) {
	var reply Status
	if err := c.Call(ctx, "Admin.Status", &NoArgs{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// newHTTPClient creates a client without connection reuse; admin calls are
// rare and a stale keep-alive connection only shows up as EOF.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// cleanlyCloseBody drains and closes an HTTP response body.
func cleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

// Call issues one JSON-RPC request, retrying transient transport failures
// with exponential backoff.
func (c *AdminClient) Call(ctx context.Context, method string, params, reply interface{}) error {
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uri, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		request.Header.Set("Content-Type", "application/json")

		resp, err := newHTTPClient().Do(request)
		if err != nil {
			lastErr = err
			retry := isRetryableError(err)
			c.logger.Debug("admin request failed",
				zap.String("method", method),
				zap.Int("attempt", attempt+1),
				zap.Bool("retryable", retry),
				zap.Error(err),
			)
			if retry {
				continue
			}
			return fmt.Errorf("failed to issue request: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			cleanlyCloseBody(resp.Body)
			return fmt.Errorf("received status code: %d", resp.StatusCode)
		}
		err = json2.DecodeClientResponse(resp.Body, reply)
		cleanlyCloseBody(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to decode client response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to issue request after %d retries: %w", maxRetries, lastErr)
}
