// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Foxerine/vein-based-iov-simulator/bridge"
	"github.com/Foxerine/vein-based-iov-simulator/display"
	"github.com/Foxerine/vein-based-iov-simulator/engine"
	"github.com/Foxerine/vein-based-iov-simulator/lib/config"
	"github.com/Foxerine/vein-based-iov-simulator/proxy"
	"github.com/Foxerine/vein-based-iov-simulator/session"
	"github.com/Foxerine/vein-based-iov-simulator/supervise"
)

// orchestrate runs the session's stage sequence against an already
// registered teardown: display chain and proxy route in interactive
// mode, then the transport bridge, the conditional build, the engine
// run, and results staging. The first failing stage aborts the rest;
// the deferred shutdown in run() handles whatever had started.
func orchestrate(ctx context.Context, cfg *config.Config, sessionCtx *session.Context, logger *slog.Logger) error {
	descriptor := sessionCtx.Descriptor

	if err := cfg.EnsurePaths(); err != nil {
		return &session.ConfigurationError{What: "session mounts", Err: err}
	}

	tools, err := preflight(cfg, descriptor, logger)
	if err != nil {
		return err
	}

	sessionLog, err := engine.OpenSessionLog(cfg.Paths.Results, cfg.Results.LogName)
	if err != nil {
		return &session.ConfigurationError{What: "session log", Err: err}
	}
	defer sessionLog.Close()
	sessionLog.Note("session %s starting (mode %s)", sessionCtx.ID, descriptor.Mode)

	sup := supervise.New(supervise.Options{
		Logger:         logger,
		ReadyTimeout:   cfg.ReadyTimeoutValue(),
		StopGrace:      cfg.StopGraceValue(),
		StopEscalation: cfg.Supervisor.StopEscalation,
	})

	displayTarget := ""
	if descriptor.Interactive() {
		if displayTarget, err = display.Start(ctx, cfg, tools.display, sup, sessionCtx); err != nil {
			return err
		}
		sessionLog.Note("display chain up on %s", displayTarget)

		link, err := publishRoute(ctx, cfg, sessionCtx, tools.proxy, logger)
		if err != nil {
			return err
		}
		sessionLog.Note("session view at %s", link)
		// The link is the session's one stdout artifact; the queue
		// hands it to the user.
		fmt.Fprintln(os.Stdout, link)
	}

	if err := bridge.Start(ctx, cfg, tools.bridge, sup, sessionCtx); err != nil {
		return err
	}

	runner := engine.New(cfg, sessionLog, engine.Options{Logger: logger})
	if engine.NeedsCompile(cfg) {
		if err := runner.Compile(ctx); err != nil {
			return err
		}
	}

	code, runErr := runner.Execute(ctx, engine.Invocation{
		Binary:      tools.engine,
		Backend:     descriptor.UIBackend,
		Passthrough: descriptor.Passthrough,
		Display:     displayTarget,
	})

	if stageErr := runner.Stage(sessionCtx.ID, descriptor.ConfigLabel, code); stageErr != nil {
		logger.Error("staging results failed", "error", stageErr)
		if runErr == nil {
			return fmt.Errorf("staging results: %w", stageErr)
		}
	}
	return runErr
}

// publishRoute registers the session's proxy route and returns the
// viewer link: absolute when the published host port can be
// discovered, relative otherwise. The route is deregistered during
// teardown with a fresh context — the signal context is already
// cancelled by the time an interrupted session gets here.
func publishRoute(ctx context.Context, cfg *config.Config, sessionCtx *session.Context, proxyBinary string, logger *slog.Logger) (string, error) {
	registrar := proxy.NewRegistrar(
		cfg.Proxy.RoutesFile,
		proxy.NginxValidator{Binary: proxyBinary, ListenPort: cfg.Proxy.ListenPort},
		proxy.NginxReloader{Binary: proxyBinary},
		logger,
	)
	route := proxy.Route{
		Token:        sessionCtx.Descriptor.Token,
		UpstreamPort: cfg.Display.BridgePort,
		IdleTimeout:  cfg.IdleTimeoutValue(),
	}
	if err := registrar.Register(ctx, route); err != nil {
		return "", err
	}
	sessionCtx.OnShutdown("proxy route", func() error {
		return registrar.Deregister(context.Background(), route.Token)
	})

	link, err := proxy.DiscoverLink(ctx, cfg.Proxy.ControlSocket, cfg.Proxy.ListenPort, route.Token)
	if err != nil {
		logger.Warn("published port discovery failed, publishing relative link", "error", err)
		return proxy.RelativeLink(route.Token), nil
	}
	return link, nil
}
