// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harborlabs/harbor/log"
	"github.com/harborlabs/harbor/pool"
	"github.com/harborlabs/harbor/pool/staking"
)

// node drives the pool against the simulated staking service: one tick
// per block, one external epoch per epochSpan blocks, and a crank walk
// whenever the pool has settling to do.
type node struct {
	pool          *pool.Pool
	sim           *staking.Sim
	blockInterval time.Duration
	epochSpan     uint64
	budget        int

	block atomic.Uint64
}

func newNode(p *pool.Pool, sim *staking.Sim, blockInterval time.Duration, epochSpan uint64, budget int) *node {
	return &node{
		pool:          p,
		sim:           sim,
		blockInterval: blockInterval,
		epochSpan:     epochSpan,
		budget:        budget,
	}
}

// Block reports the current simulated block height.
func (n *node) Block() uint64 {
	return n.block.Load()
}

// Run serves the API and ticks the simulation until ctx is cancelled.
func (n *node) Run(ctx context.Context, apiHandler http.HandlerFunc, apiAddr string) error {
	listener, err := net.Listen("tcp", apiAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: apiHandler, ReadHeaderTimeout: 10 * time.Second}

	log.Info("API server started", "addr", "http://"+listener.Addr().String())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.Serve(listener); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("stopping API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		return n.loop(ctx)
	})
	return group.Wait()
}

func (n *node) loop(ctx context.Context) error {
	ticker := time.NewTicker(n.blockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping crank loop...")
			return nil
		case <-ticker.C:
			block := n.block.Add(1)
			if block%n.epochSpan == 0 {
				n.sim.AdvanceEpoch()
			}
			n.crank(block)
		}
	}
}

func (n *node) crank(block uint64) {
	ready, err := n.pool.CrankReady()
	if err != nil {
		log.Error("crank readiness check failed", "err", err)
		return
	}
	if !ready {
		return
	}
	for {
		res, err := n.pool.Crank(block, n.budget)
		if err != nil {
			log.Error("crank failed", "block", block, "err", err)
			return
		}
		if res.Advanced {
			epoch, err := n.pool.EpochIndex()
			if err == nil {
				log.Info("epoch advanced", "epoch", epoch, "block", block)
			}
		}
		if res.Complete {
			if res.Processed > 0 {
				log.Debug("crank round complete", "processed", res.Processed, "block", block)
			}
			return
		}
	}
}
