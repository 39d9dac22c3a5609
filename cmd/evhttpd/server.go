// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/z5labs/evhttp"
	"github.com/z5labs/evhttp/app"
	"github.com/z5labs/evhttp/fault"
	"github.com/z5labs/evhttp/lifecycle"
	"github.com/z5labs/evhttp/pkg/otelslog"
	"github.com/z5labs/evhttp/pkg/slogfield"
	"github.com/z5labs/evhttp/reactor"
	"github.com/z5labs/evhttp/telemetry"
	"github.com/z5labs/evhttp/tlsconfig"
	"github.com/z5labs/evhttp/web"
	"github.com/z5labs/evhttp/web/static"
	"github.com/z5labs/evhttp/wire"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is everything evhttpd can be configured with.
type Config struct {
	Listen web.ListenConfig `config:"listen"`
	TLS    tlsconfig.Server `config:"tls"`

	Reactor struct {
		Mode    reactor.Mode `config:"mode"`
		Workers int          `config:"workers" validate:"gte=0"`
	} `config:"reactor"`

	Static []static.Config `config:"static"`

	// Health is the path of the health route. Empty disables it.
	Health string `config:"health" validate:"omitempty,startswith=/"`

	MaxBodySize     int64         `config:"max_body_size" validate:"gte=0"`
	ShutdownTimeout time.Duration `config:"shutdown_timeout" validate:"gte=0"`

	Log       otelslog.Config  `config:"log"`
	Telemetry telemetry.Config `config:"telemetry"`
}

// Validate implements the evhttp.Validator interface.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

const helloPage = "<p>Hello</p>\n"

type builder struct {
	out io.Writer
	lc  *lifecycle.Context
}

// Build implements the evhttp.AppBuilder interface.
func (b builder) Build(ctx context.Context, cfg Config) (_ evhttp.App, err error) {
	// Hooks registered before a failure still need to run.
	defer func() {
		if err != nil {
			err = errors.Join(err, b.lc.PostRun().Run(ctx))
		}
	}()

	logHandler, err := otelslog.FromConfig(b.out, cfg.Log, otelslog.SpanEvents(slog.LevelError))
	if err != nil {
		return nil, err
	}
	log := slog.New(logHandler)

	_, err = telemetry.Manage(lifecycle.NewContext(ctx, b.lc), cfg.Telemetry, telemetry.Writer(b.out))
	if err != nil {
		return nil, err
	}

	tlsCfg, err := cfg.TLS.Build()
	if err != nil {
		return nil, err
	}

	site := web.NewSite()
	for _, sc := range cfg.Static {
		svc, err := static.New(sc, static.LogHandler(logHandler))
		if err != nil {
			return nil, err
		}
		b.lc.OnPostRun(lifecycle.HookFunc(func(context.Context) error {
			return svc.Close()
		}))
		site.Register(svc)
	}
	if len(cfg.Static) == 0 {
		site.OnRequestsFor(wire.Get, "/", hello)
	}

	r := reactor.New(
		reactor.WithMode(cfg.Reactor.Mode),
		reactor.Workers(cfg.Reactor.Workers),
		reactor.LogHandler(logHandler),
	)

	opts := []web.ServerOption{web.LogHandler(logHandler)}
	if tlsCfg != nil {
		opts = append(opts, web.TLSConfig(tlsCfg))
	}
	if cfg.MaxBodySize > 0 {
		opts = append(opts, web.MaxBodySize(cfg.MaxBodySize))
	}
	if cfg.ShutdownTimeout > 0 {
		opts = append(opts, web.ShutdownTimeout(cfg.ShutdownTimeout))
	}
	srv := web.NewServer(r, site, opts...)
	if cfg.Health != "" {
		site.Register(web.HealthService(cfg.Health, srv))
	}

	_, err = srv.OnError(func(e *fault.Error) {
		log.Error("server error", slogfield.Error(e))
	})
	if err != nil {
		return nil, err
	}

	var a evhttp.App = evhttp.AppFunc(func(ctx context.Context) error {
		err := srv.Listen(ctx, cfg.Listen)
		if err != nil {
			return err
		}
		log.InfoContext(
			ctx,
			"listening",
			slogfield.LocalAddr(srv.Addr()),
			slogfield.Bool("tls", tlsCfg != nil),
			slogfield.String("reactor_mode", r.Mode().String()),
		)
		return srv.Run(ctx)
	})
	a = app.Recover(a)
	a = app.WithSignalNotifications(a, os.Interrupt, syscall.SIGTERM)
	a = app.WithLifecycle(a, b.lc)
	return a, nil
}

func hello(_ *web.Request, resp *web.Response) {
	resp.Headers.Set("Content-Type", "text/html; charset=utf-8")
	resp.End([]byte(helloPage))
}
