// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"github.com/z5labs/evhttp"
	"github.com/z5labs/evhttp/config"
	"github.com/z5labs/evhttp/lifecycle"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

const envPrefix = "EVHTTP_"

//go:embed defaults.yaml
var defaultsYaml []byte

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newCommand(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "evhttpd:", err)
	}
	return exitCode(err)
}

func newCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:           "evhttpd [config file]",
		Short:         "Serve static directories over HTTP/1.1",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs := []config.Source{
				config.FromYaml(config.RenderTextTemplate(bytes.NewReader(defaultsYaml))),
			}
			if len(args) == 1 {
				srcs = append(srcs, fromFile(args[0]))
			}
			srcs = append(srcs, config.FromEnv(envPrefix))

			return evhttp.Run(
				cmd.Context(),
				builder{out: stdout, lc: &lifecycle.Context{}},
				srcs...,
			)
		},
	}
}

// fromFile reads JSON, YAML and TOML files directly. Any other format viper
// understands, e.g. HCL or dotenv, is read through viper.
func fromFile(path string) config.Source {
	if _, ok := config.FormatOf(path); ok {
		return config.FromFile(path)
	}
	return config.SourceFunc(func(store config.Store) error {
		v := viper.New()
		v.SetConfigFile(path)
		err := v.ReadInConfig()
		if err != nil {
			return err
		}
		return config.FromViper(v).Apply(store)
	})
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var readErr evhttp.ConfigReadError
	var unmarshalErr evhttp.ConfigUnmarshalError
	var validateErr evhttp.ConfigValidateError
	var buildErr evhttp.BuildError
	switch {
	case errors.As(err, &readErr), errors.As(err, &unmarshalErr), errors.As(err, &validateErr), errors.As(err, &buildErr):
		return exitConfig
	default:
		return exitFailed
	}
}
