// Command pomade-sync is the operator/debug surface for the Pomade sync
// core: inspect mode and queue state, trigger a manual drain, and requeue
// failed entries.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pomadehq/pomade/internal/config"
	"github.com/pomadehq/pomade/internal/conflict"
	"github.com/pomadehq/pomade/internal/db"
	"github.com/pomadehq/pomade/internal/device"
	"github.com/pomadehq/pomade/internal/drainer"
	"github.com/pomadehq/pomade/internal/netmon"
	"github.com/pomadehq/pomade/internal/policy"
	"github.com/pomadehq/pomade/internal/remote"
	"github.com/pomadehq/pomade/internal/router"
	"github.com/pomadehq/pomade/internal/store"
	"github.com/pomadehq/pomade/internal/syncq"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "pomade-sync",
		Usage:   "inspect and drive the Pomade local-first sync core",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Value:   os.Getenv("HOME") + "/.pomade/config.yaml",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "show device mode, reachability, and queue stats",
				Action: runStatus,
			},
			{
				Name:   "sync",
				Usage:  "run one drain cycle against the remote store",
				Action: runSync,
			},
			{
				Name:  "queue",
				Usage: "inspect the sync queue",
				Subcommands: []*cli.Command{
					{Name: "list", Usage: "list all entries in drain order", Action: runQueueList},
					{Name: "failed", Usage: "list terminal failed entries", Action: runQueueFailed},
					{Name: "retry", Usage: "requeue failed entries with a fresh attempt budget", Action: runQueueRetry},
				},
			},
			{
				Name:  "register",
				Usage: "register this device",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "store-id", Required: true},
					&cli.StringFlag{Name: "mode", Value: string(policy.ModeOfflineEnabled)},
					&cli.BoolFlag{Name: "local-first", Usage: "prefer local reads even when online"},
				},
				Action: runRegister,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env bundles the wired-up core for one CLI invocation.
type env struct {
	cfg     *config.Config
	db      *db.DB
	store   *store.Store
	queue   *syncq.Queue
	devices *device.Registry
	remote  remote.Client
	monitor *netmon.Monitor
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		database.Close()
		return nil, err
	}

	return &env{
		cfg:     cfg,
		db:      database,
		store:   store.New(database.DB),
		queue:   syncq.New(database.DB, syncq.WithMaxAttempts(cfg.Sync.MaxAttempts)),
		devices: device.NewRegistry(database.DB),
		remote:  remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.RemoteTimeout()),
		monitor: netmon.New(cfg.Remote.BaseURL+"/healthz", cfg.ProbeInterval()),
	}, nil
}

func (e *env) close() {
	e.store.Close()
	e.db.Close()
}

func runStatus(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	dc, err := e.devices.Context()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	e.monitor.Start(ctx)
	defer e.monitor.Stop()
	// Give the initial probe a moment.
	time.Sleep(200 * time.Millisecond)

	r := router.New(dc, e.monitor.IsOnline, nil)
	info := r.GetModeInfo()

	stats, err := e.queue.Stats()
	if err != nil {
		return err
	}

	out := map[string]any{
		"device_id": dc.DeviceID,
		"store_id":  dc.StoreID,
		"mode":      info,
		"queue":     stats,
	}
	return printJSON(out)
}

func runSync(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	dc, err := e.devices.Context()
	if err != nil {
		return err
	}
	pol := policy.PolicyFor(dc)

	e.monitor.SetOnline(true) // manual sync assumes the operator knows the link is up

	resolver := conflict.NewResolver(conflict.ResolutionStrategyLastWriteWins)
	d := drainer.New(e.queue, e.remote, e.store, resolver, pol, e.monitor, drainer.Config{
		Interval:      e.cfg.DrainInterval(),
		BatchSize:     e.cfg.Sync.BatchSize,
		RemoteTimeout: e.cfg.RemoteTimeout(),
	})

	if err := d.Drain(c.Context); err != nil {
		return err
	}

	stats, err := e.queue.Stats()
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"state":        d.State(),
		"last_sync_at": d.LastSyncAt().Format(time.RFC3339),
		"queue":        stats,
	})
}

func runQueueList(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	entries, err := e.queue.List()
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func runQueueFailed(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	entries, err := e.queue.Failed()
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func runQueueRetry(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	n, err := e.queue.RetryFailed()
	if err != nil {
		return err
	}
	fmt.Printf("requeued %d entries\n", n)
	return nil
}

func runRegister(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	st, err := e.devices.Register(c.String("store-id"), policy.Mode(c.String("mode")), c.Bool("local-first"))
	if err != nil {
		return err
	}
	return printJSON(st)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
