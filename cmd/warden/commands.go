package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ferrost/warden/pkg/client"
)

// command binds the CLI verbs to an API client built from global flags.
type command struct {
	global *GlobalFlags
}

func (c command) newClient() *client.Client {
	cfg := client.DefaultConfig()
	if c.global.APIUrl != "" {
		cfg.BaseURL = c.global.APIUrl
	}
	if c.global.APITimeout > 0 {
		cfg.Timeout = c.global.APITimeout
	}
	return client.New(cfg)
}

func (c command) ctx() (context.Context, context.CancelFunc) {
	timeout := c.global.APITimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (c command) api() (*client.Client, context.Context, context.CancelFunc, error) {
	api := c.newClient()
	ctx, cancel := c.ctx()
	if !api.IsReachable(ctx) {
		cancel()
		return nil, nil, nil, fmt.Errorf("daemon not reachable - start it first with 'warden serve'")
	}
	return api, ctx, cancel, nil
}

func (c command) Status(f StatusFlags) error {
	api, ctx, cancel, err := c.api()
	if err != nil {
		return err
	}
	defer cancel()
	if f.Name != "" {
		st, err := api.Status(ctx, f.Name)
		if err != nil {
			return err
		}
		printJSON(st)
		return nil
	}
	sts, err := api.Statuses(ctx)
	if err != nil {
		return err
	}
	printJSON(sts)
	return nil
}

func (c command) Start(f StatusFlags) error {
	api, ctx, cancel, err := c.api()
	if err != nil {
		return err
	}
	defer cancel()
	info, err := api.Start(ctx, f.Name)
	if err != nil {
		return err
	}
	fmt.Printf("started %s (pid %d)\n", info.Name, info.PID)
	return nil
}

func (c command) Stop(f StopFlags) error {
	api := c.newClient()
	// The stop grace period can exceed the API timeout; give the request
	// room on top of the wait.
	ctx, cancel := context.WithTimeout(context.Background(), f.Wait+10*time.Second)
	defer cancel()
	if !api.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable - start it first with 'warden serve'")
	}
	if err := api.Stop(ctx, f.Name, f.Wait); err != nil {
		return err
	}
	fmt.Printf("stopped %s\n", f.Name)
	return nil
}

func (c command) Kill(f StatusFlags) error {
	api, ctx, cancel, err := c.api()
	if err != nil {
		return err
	}
	defer cancel()
	if err := api.Kill(ctx, f.Name); err != nil {
		return err
	}
	fmt.Printf("killed %s\n", f.Name)
	return nil
}

func (c command) Send(f SendFlags) error {
	api, ctx, cancel, err := c.api()
	if err != nil {
		return err
	}
	defer cancel()
	return api.Send(ctx, f.Name, f.Command)
}

func (c command) Crashes(f CrashesFlags) error {
	api, ctx, cancel, err := c.api()
	if err != nil {
		return err
	}
	defer cancel()
	if f.Clear {
		if err := api.ClearCrashes(ctx, f.Name); err != nil {
			return err
		}
		fmt.Printf("cleared crash history for %s\n", f.Name)
		return nil
	}
	events, err := api.Crashes(ctx, f.Name, f.Limit)
	if err != nil {
		return err
	}
	printJSON(events)
	return nil
}

func (c command) Jobs(f JobsFlags) error {
	api, ctx, cancel, err := c.api()
	if err != nil {
		return err
	}
	defer cancel()
	if f.JobID != "" {
		snap, err := api.Job(ctx, f.JobID)
		if err != nil {
			return err
		}
		printJSON(snap)
		return nil
	}
	jobs, err := api.Jobs(ctx, f.All)
	if err != nil {
		return err
	}
	printJSON(jobs)
	return nil
}

func (c command) Backup(f BackupFlags) error {
	api, ctx, cancel, err := c.api()
	if err != nil {
		return err
	}
	defer cancel()
	id, err := api.Backup(ctx, f.Name)
	if err != nil {
		return err
	}
	fmt.Printf("backup job %s enqueued for %s\n", id, f.Name)
	return nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
