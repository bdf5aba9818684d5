// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/harborlabs/harbor/api"
	"github.com/harborlabs/harbor/harbor"
	"github.com/harborlabs/harbor/log"
	"github.com/harborlabs/harbor/metrics"
	"github.com/harborlabs/harbor/pool"
	"github.com/harborlabs/harbor/pool/staking"
	"github.com/harborlabs/harbor/state"
	"github.com/harborlabs/harbor/storage"
)

var (
	version   string
	gitCommit string
	gitTag    string
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "Harbor",
		Usage:     "Pooled staking rebalancer with a simulated staking service",
		Copyright: "2025 The Harbor developers",
		Flags: []cli.Flag{
			configFlag,
			dataDirFlag,
			apiAddrFlag,
			apiCorsFlag,
			verbosityFlag,
			blockIntervalFlag,
			epochSpanFlag,
			yieldBpsFlag,
			crankBudgetFlag,
			enableMetricsFlag,
			enableAPILogsFlag,
			pprofFlag,
		},
		Action: defaultAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultAction(ctx *cli.Context) error {
	defer func() { log.Info("exited") }()

	initLogger(ctx)
	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
	}

	cfg, err := loadConfig(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}

	mainDB, err := openMainDB(ctx)
	if err != nil {
		return err
	}
	defer func() { log.Info("closing main database..."); mainDB.Close() }()

	sctx := storage.NewContext(state.New(mainDB))
	sim := staking.NewSim(0, uint32(ctx.Uint(yieldBpsFlag.Name)))
	p := pool.New(sctx, sim)

	if err := bootstrap(p, sim, cfg, ctx.Uint64(epochSpanFlag.Name)); err != nil {
		return err
	}

	n := newNode(
		p, sim,
		time.Duration(ctx.Uint64(blockIntervalFlag.Name))*time.Second,
		ctx.Uint64(epochSpanFlag.Name),
		ctx.Int(crankBudgetFlag.Name),
	)

	handler := api.New(p, n.Block, api.Options{
		AllowedOrigins:  ctx.String(apiCorsFlag.Name),
		PprofOn:         ctx.Bool(pprofFlag.Name),
		EnableMetrics:   ctx.Bool(enableMetricsFlag.Name),
		EnableReqLogger: ctx.Bool(enableAPILogsFlag.Name),
	})

	return n.Run(handleExitSignal(), handler, ctx.String(apiAddrFlag.Name))
}

// bootstrap initializes pool state and registers the configured
// validator set. The staking simulation starts empty on every run, so
// a data dir holding state from an earlier run cannot be resumed.
func bootstrap(p *pool.Pool, sim *staking.Sim, cfg *Config, epochSpan uint64) error {
	first, err := p.Registry().First()
	if err != nil {
		return err
	}
	if first != harbor.NoID {
		return errors.New("data dir holds state from an earlier run; remove it or run in-memory")
	}

	if err := p.Initialize(cfg.Params(epochSpan)); err != nil {
		return errors.WithMessage(err, "initialize pool")
	}

	id := harbor.FirstUserID
	for _, v := range cfg.Validators {
		identity := identityOf(v.Identity)
		sim.Register(identity, v.CommissionBps)
		if err := p.AddValidator(id, identity); err != nil {
			return errors.WithMessagef(err, "add validator %q", v.Identity)
		}
		log.Info("validator registered", "id", id, "identity", identity.AbbrevString())
		id++
	}

	if cfg.BootstrapDeposit.Sign() > 0 {
		if err := p.AccountForDeposit(&cfg.BootstrapDeposit.Int); err != nil {
			return errors.WithMessage(err, "bootstrap deposit")
		}
		log.Info("bootstrap deposit queued", "amount", &cfg.BootstrapDeposit.Int)
	}
	return nil
}
