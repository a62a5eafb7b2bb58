// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerPool runs submitted work on at most size goroutines. Submit blocks
// while the pool is full, which pushes back on accept loops during
// connection storms.
type WorkerPool struct {
	logger *zap.Logger
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

var _ Executor = (*WorkerPool)(nil)

func NewWorkerPool(size int, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &errgroup.Group{}
	g.SetLimit(size)
	return &WorkerPool{
		logger: logger.Named("pool"),
		group:  g,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules fn. The context passed to fn is cancelled when the pool
// closes.
func (p *WorkerPool) Submit(fn func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker panic", zap.String("panic", fmt.Sprint(r)))
			}
		}()
		fn(p.ctx)
		return nil
	})
	return nil
}

// Close rejects further work, cancels running work and waits for it to
// drain.
func (p *WorkerPool) Close() error {
	p.cancel()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.group.Wait()
}
