// ABOUTME: Shared startup sequence: load config, build the Kernel, init state/clients/harness, start the watcher.

package main

import (
	"context"
	"fmt"

	"github.com/haasonsaas/bedrockkernel/kernel"
	"github.com/haasonsaas/bedrockkernel/kernel/config"
	"github.com/haasonsaas/bedrockkernel/llm"
)

func bootstrap(ctx context.Context, flags *globalFlags) (*kernel.Kernel, error) {
	logger, err := setupLogger(flags)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(flags.Model, flags.Provider); err != nil {
		return nil, err
	}

	k := kernel.New(cfg, logger)
	if err := k.InitState(); err != nil {
		return nil, fmt.Errorf("init_state: %w", err)
	}

	client, err := llm.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("build inference client: %w", err)
	}
	k.InitClients(client)

	if err := k.InitHarness(); err != nil {
		return nil, fmt.Errorf("init_harness: %w", err)
	}

	if err := k.StartWatcher(ctx); err != nil {
		return nil, fmt.Errorf("start_watcher: %w", err)
	}

	return k, nil
}
