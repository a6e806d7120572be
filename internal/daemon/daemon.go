// Package daemon wires the Worker Handle, Service Aggregator, Command
// Center, Control Transport and Signal Router together into one
// running master process. Grounded in the teacher's internal/server
// package (the StartServer entrypoint that assembles listeners,
// cluster manager and bridge before blocking), adapted to this
// domain's components.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"picomasterd/internal/cgroup"
	"picomasterd/internal/config"
	"picomasterd/internal/master"
	"picomasterd/internal/resource"
	"picomasterd/internal/service"
	"picomasterd/internal/watch"
	"picomasterd/internal/wire"
	"picomasterd/internal/worker"
)

// Version is the value reported to ReqVersion; set at build time via
// -ldflags, defaulting to "dev".
var Version = "dev"

// Run loads cfg, builds every service and runs its Aggregator loop, and
// blocks until the master has finished an ordered shutdown, returning
// the process exit code. No worker is spawned until a client sends Start.
func Run(configPath string) int {
	logger := log.New(os.Stderr, "picomasterd: ", log.LstdFlags)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Printf("config: %v", err)
		return 1
	}

	sentinel, err := master.BindSentinel()
	if err != nil {
		logger.Printf("%v", err)
		return 1
	}
	// Intentionally never closed; KeepAlive stops the garbage collector
	// from finalizing (and so closing) the listener while the master runs.
	defer runtime.KeepAlive(sentinel)

	if cfg.PIDFile != "" {
		if err := master.WritePIDFile(cfg.PIDFile); err != nil {
			logger.Printf("pidfile: %v", err)
			return 1
		}
		defer master.RemovePIDFile(cfg.PIDFile)
	}

	ctx, cancelAll := context.WithCancel(context.Background())
	defer cancelAll()

	center := master.New(logger)

	var samplerTargets []resource.Target
	for _, sc := range cfg.Services {
		wcfg := worker.Config{
			ExecutablePath:    sc.ExecutablePath,
			Args:              sc.Args,
			Env:               sc.Env,
			WorkingDir:        sc.WorkingDir,
			StartupTimeout:    sc.StartupTimeout(),
			ShutdownTimeout:   sc.ShutdownTimeout(),
			HeartbeatInterval: sc.HeartbeatInterval(),
			HeartbeatGrace:    sc.HeartbeatGrace(),
			MaxRestarts:       sc.MaxRestarts,
		}
		agg := service.New(service.Spec{Name: sc.Name, Num: sc.Num, Worker: wcfg}, logger)
		center.AddService(agg)
		go agg.Run(ctx)

		samplerTargets = append(samplerTargets, serviceSamplerTargets(logger, sc, agg)...)
	}

	watcher, err := watch.New(logger)
	if err != nil {
		logger.Printf("watch: %v", err)
	} else {
		for _, sc := range cfg.Services {
			if err := watcher.Add(sc.ExecutablePath); err != nil {
				logger.Printf("watch: %s: %v", sc.ExecutablePath, err)
			}
		}
		go watcher.Run(func(watch.Notice) {})
		defer watcher.Close()
	}

	sampler := resource.New(5*time.Second, logger, samplerTargets)
	go sampler.Run(ctx)

	center.MarkRunning()

	transport := master.NewTransport(cfg.SocketPath, center, logger, Version)
	go func() {
		if err := transport.Serve(ctx); err != nil {
			logger.Printf("transport: %v", err)
		}
	}()
	defer transport.Close()

	go master.RunSignalRouter(ctx, center)
	go center.Run(ctx)

	<-center.Done()
	cancelAll()
	fmt.Fprintln(os.Stderr, "picomasterd: shutdown complete")
	return 0
}

func serviceSamplerTargets(logger *log.Logger, sc config.ServiceConfig, agg *service.Aggregator) []resource.Target {
	policy := resource.Policy{
		MaxRSSBytes: sc.MaxRSSBytes,
		MaxCPUPct:   sc.MaxCPUPercent,
		Enforce:     sc.EnforceLimits,
	}
	targets := make([]resource.Target, 0, sc.Num)
	for i := 0; i < sc.Num; i++ {
		idx := i
		label := fmt.Sprintf("%s[%d]", sc.Name, idx)

		var group *cgroup.Group
		if sc.UseCgroup {
			g, err := cgroup.New(label)
			if err != nil {
				logger.Printf("resource: %s: cgroup unavailable, falling back to sampler-only enforcement: %v", label, err)
			} else {
				if err := g.SetMemoryLimit(sc.MaxRSSBytes); err != nil {
					logger.Printf("resource: %s: memory.max: %v", label, err)
				}
				if err := g.SetCPUQuota(sc.MaxCPUPercent); err != nil {
					logger.Printf("resource: %s: cpu.max: %v", label, err)
				}
				group = g
			}
		}

		targets = append(targets, resource.Target{
			Label:   label,
			Policy:  policy,
			Cgroup:  group,
			PID:     func() int { return agg.WorkerPID(idx) },
			Observe: func(sample wire.ResourceSample) { agg.SetWorkerResource(idx, sample) },
			Kill:    func() { agg.KillWorker(idx) },
		})
	}
	return targets
}
