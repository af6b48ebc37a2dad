// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	pb "gopkg.in/cheggaaa/pb.v1"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/evmgauntlet/gauntlet/analytics"
	"github.com/evmgauntlet/gauntlet/artifact"
	"github.com/evmgauntlet/gauntlet/bus"
	"github.com/evmgauntlet/gauntlet/gas"
	"github.com/evmgauntlet/gauntlet/log"
	"github.com/evmgauntlet/gauntlet/metrics"
	"github.com/evmgauntlet/gauntlet/netreg"
	"github.com/evmgauntlet/gauntlet/pool"
	"github.com/evmgauntlet/gauntlet/registry"
	"github.com/evmgauntlet/gauntlet/resultdb"
	"github.com/evmgauntlet/gauntlet/retry"
	"github.com/evmgauntlet/gauntlet/runner"
)

var logger = log.WithContext("pkg", "main")

type services struct {
	networks *netreg.Registry
	store    *resultdb.Store
	pool     *pool.Pool
	bus      *bus.Bus
	runner   *runner.Runner
}

func initServices(ctx *cli.Context) (*services, func(), error) {
	log.SetVerbosity(ctx.GlobalInt(verbosityFlag.Name))
	log.SetRootHandler(log.NewTerminalHandler(os.Stderr, log.Level(), isatty.IsTerminal(os.Stderr.Fd())))

	if addr := ctx.GlobalString(metricsAddrFlag.Name); addr != "" {
		startMetricsServer(addr)
	}

	networks := netreg.New(ctx.GlobalString(configDirFlag.Name))
	if err := networks.Load(); err != nil {
		return nil, nil, cli.NewExitError(fmt.Sprintf("load network specs: %v", err), exitConfig)
	}

	store, err := resultdb.New(filepath.Join(ctx.GlobalString(dataDirFlag.Name), "test-results.db"))
	if err != nil {
		return nil, nil, cli.NewExitError(fmt.Sprintf("open result store: %v", err), exitConfig)
	}

	p := pool.New()
	retryMgr := retry.NewManager()
	for _, spec := range networks.All() {
		retryMgr.Register(spec)
	}
	b := bus.New()

	artifactsDir := ctx.String(artifactsDirFlag.Name)
	if artifactsDir == "" {
		artifactsDir = ctx.GlobalString(artifactsDirFlag.Name)
	}

	r := runner.New(runner.Deps{
		Networks:  networks,
		Pool:      p,
		Gas:       gas.NewManager(),
		Retry:     retryMgr,
		Store:     store,
		Contracts: registry.New(store, p, retryMgr),
		Artifacts: artifact.NewLoader(artifactsDir),
		Bus:       b,
	})

	svc := &services{networks: networks, store: store, pool: p, bus: b, runner: r}
	cleanup := func() {
		p.Cleanup()
		b.Close()
		if err := store.Close(); err != nil {
			logger.Warn("result store close failed", "err", err)
		}
	}
	return svc, cleanup, nil
}

func startMetricsServer(addr string) {
	metrics.InitPrometheus()
	srv := &http.Server{Addr: addr, Handler: metrics.HTTPHandler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	logger.Info("metrics server started", "addr", addr)
}

// handleExitSignal cancels the returned context on SIGINT/SIGTERM. In-flight
// transactions get the runner's grace window to drain.
func handleExitSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		exitSignalCh := make(chan os.Signal, 1)
		signal.Notify(exitSignalCh, os.Interrupt, syscall.SIGTERM)
		sig := <-exitSignalCh
		logger.Info("exit signal received", "signal", sig)
		cancel()
	}()
	return ctx
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func selectedNetworks(ctx *cli.Context, svc *services) []string {
	ids := splitList(ctx.String(networksFlag.Name))
	if len(ids) > 0 {
		return ids
	}
	for _, spec := range svc.networks.All() {
		ids = append(ids, spec.ID)
	}
	return ids
}

func runAction(ctx *cli.Context) error {
	svc, cleanup, err := initServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := runner.Options{
		Networks:          selectedNetworks(ctx, svc),
		Tests:             splitList(ctx.String(testsFlag.Name)),
		Mode:              runner.Mode(ctx.String(modeFlag.Name)),
		Parallel:          ctx.Bool(parallelFlag.Name),
		MaxConcurrent:     ctx.Int(maxConcurrentFlag.Name),
		Timeout:           ctx.Duration(timeoutFlag.Name),
		Verbose:           ctx.Bool(verboseFlag.Name),
		RetryUntilSuccess: ctx.Bool(retryUntilSuccessFlag.Name),
		PrivateKey:        os.Getenv("PRIVATE_KEY"),
	}
	return executeRun(ctx, svc, opts)
}

func deployAction(ctx *cli.Context) error {
	svc, cleanup, err := initServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := runner.Options{
		Networks:     selectedNetworks(ctx, svc),
		Mode:         runner.ModeDeployment,
		ContractType: ctx.String(contractTypeFlag.Name),
		Timeout:      ctx.Duration(timeoutFlag.Name),
		Verbose:      ctx.Bool(verboseFlag.Name),
		PrivateKey:   os.Getenv("PRIVATE_KEY"),
	}
	return executeRun(ctx, svc, opts)
}

func executeRun(ctx *cli.Context, svc *services, opts runner.Options) error {
	runCtx := handleExitSignal()

	stopBar := func() {}
	if !opts.Verbose && isatty.IsTerminal(os.Stdout.Fd()) {
		stopBar = startProgress(svc.bus, len(opts.Networks))
	}

	summary, err := svc.runner.Run(runCtx, opts)
	stopBar()
	if err != nil {
		return asExitError(err)
	}

	printSummary(svc.runner, summary)
	reportRegressions(svc, opts.Networks)
	if !summary.FloorMet {
		return cli.NewExitError("", exitFailure)
	}
	return nil
}

// reportRegressions compares this run's metrics against the last week of
// history. Detection failures are logged, never fatal.
func reportRegressions(svc *services, networks []string) {
	engine := analytics.New(svc.store, svc.bus)
	since := time.Now().Add(-7 * 24 * time.Hour)
	for _, id := range networks {
		regs, err := engine.DetectRegressions(id, since, time.Time{})
		if err != nil {
			logger.Warn("regression detection failed", "network", id, "err", err)
			continue
		}
		for _, reg := range regs {
			fmt.Printf("regression on %s: %s %+.1f%% (%s, r²=%.2f)\n",
				id, reg.Metric, reg.ChangePct, reg.Severity, reg.Confidence)
		}
	}
}

// startProgress advances a bar as networks start. Returns a stop func.
func startProgress(b *bus.Bus, total int) func() {
	bar := pb.New(total)
	bar.SetMaxWidth(80)
	bar.Start()

	ch := make(chan bus.NetworkStarted, 16)
	sub := b.SubscribeNetworkStarted(ch)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
			bar.Increment()
		}
	}()
	return func() {
		sub.Unsubscribe()
		close(ch)
		<-done
		bar.Finish()
	}
}

func printSummary(r *runner.Runner, s *runner.Summary) {
	ids := make([]string, 0, len(s.PerNetwork))
	for id := range s.PerNetwork {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Network", "Result", "Tests", "Passed", "Failed", "Gas Used", "Error"})
	for _, id := range ids {
		res := s.PerNetwork[id]
		result := "OK"
		if !res.Success {
			result = "FAIL"
		}
		table.Append([]string{
			id,
			result,
			fmt.Sprintf("%d", res.Totals.Total),
			fmt.Sprintf("%d", res.Totals.Successful),
			fmt.Sprintf("%d", res.Totals.Failed),
			fmt.Sprintf("%d", res.Totals.GasUsed),
			res.Error,
		})
	}
	table.Render()

	for _, id := range ids {
		res := s.PerNetwork[id]
		if res.Totals.Failed == 0 {
			continue
		}
		if failed, err := r.FailedTests(s.RunID, id); err == nil && len(failed) > 0 {
			fmt.Printf("%s failing tests: %s\n", id, strings.Join(failed, ", "))
		}
	}

	fmt.Printf("run %s: %d tests, %d passed, %d failed in %s\n",
		s.RunID, s.Totals.Total, s.Totals.Successful, s.Totals.Failed, s.Duration.Round(timeUnit(s)))
}

// timeUnit picks a sane rounding for the duration print.
func timeUnit(s *runner.Summary) time.Duration {
	if s.Duration > time.Minute {
		return time.Second
	}
	return time.Millisecond
}

func statusAction(ctx *cli.Context) error {
	svc, cleanup, err := initServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	ids := splitList(ctx.String(networksFlag.Name))
	runCtx := handleExitSignal()

	if ctx.Bool(watchFlag.Name) {
		interval := ctx.Duration(watchIntervalFlag.Name)
		watchHeads(runCtx, svc, ids, interval)
		err := svc.runner.WatchNetworks(runCtx, ids, interval,
			func(statuses []*resultdb.NetworkStatus) {
				printStatusTable(statuses)
			})
		return asExitError(err)
	}

	statuses, err := svc.runner.ProbeNetworks(runCtx, ids)
	if err != nil {
		return asExitError(err)
	}
	printStatusTable(statuses)
	return nil
}

// watchHeads follows new heads over websocket for every watched network that
// carries a ws endpoint, pushing live status onto the event bus between polls.
// Best effort: a dropped connection is redialed at the watch cadence.
func watchHeads(ctx context.Context, svc *services, ids []string, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}
	for _, spec := range svc.networks.All() {
		if len(selected) > 0 && !selected[spec.ID] {
			continue
		}
		mon, err := pool.NewWSMonitor(spec, svc.bus)
		if err != nil {
			continue
		}
		// a persistently failing ws endpoint stops being redialed until the
		// breaker's recovery window passes
		breaker := retry.NewBreaker("ws-"+spec.ID, 3, 4*interval)
		go func() {
			for ctx.Err() == nil {
				_, err := breaker.Execute(func() (any, error) { return nil, mon.Run(ctx) })
				if err != nil && ctx.Err() == nil {
					logger.Debug("head watch interrupted", "network", spec.ID, "err", err)
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(interval):
				}
			}
		}()
	}
}

func asExitError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, runner.ErrConfig) {
		return cli.NewExitError(err.Error(), exitConfig)
	}
	return cli.NewExitError(err.Error(), exitFailure)
}

func printStatusTable(statuses []*resultdb.NetworkStatus) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Network", "Chain", "Online", "Block", "Gas (gwei)", "Latency", "Endpoint"})
	for _, st := range statuses {
		online := "yes"
		endpoint := st.RPCURL
		if !st.Online {
			online = "no"
			if st.Error != "" {
				endpoint = st.Error
			}
		}
		table.Append([]string{
			st.Network,
			fmt.Sprintf("%d", st.ChainID),
			online,
			fmt.Sprintf("%d", st.BlockNumber),
			fmt.Sprintf("%.2f", st.GasPrice.Gwei()),
			st.ResponseTime.Round(time.Millisecond).String(),
			endpoint,
		})
	}
	table.Render()
}
