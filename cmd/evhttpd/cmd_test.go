// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/z5labs/evhttp"
	"github.com/z5labs/evhttp/config"
	"github.com/z5labs/evhttp/pkg/otelslog"
	"github.com/z5labs/evhttp/tcp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExecute(t *testing.T) {
	t.Run("will exit 0", func(t *testing.T) {
		t.Run("if the server shuts down gracefully", func(t *testing.T) {
			root := t.TempDir()
			path := writeConfig(t, "evhttpd.yaml", `
listen:
  host: 127.0.0.1
  port: 0
static:
  - path: /
    root: `+root+`
    default_files: [index.html]
`)

			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			var stdout, stderr bytes.Buffer
			code := execute(ctx, []string{path}, &stdout, &stderr)

			assert.Equal(t, exitOK, code, stderr.String())
			assert.Contains(t, stdout.String(), `"msg":"listening"`)
		})
	})

	t.Run("will exit 2", func(t *testing.T) {
		testCases := []struct {
			Name   string
			Config func(*testing.T) string
		}{
			{
				Name: "if the config file does not exist",
				Config: func(t *testing.T) string {
					return filepath.Join(t.TempDir(), "missing.json")
				},
			},
			{
				Name: "if the config file is malformed",
				Config: func(t *testing.T) string {
					return writeConfig(t, "evhttpd.json", `{"listen":`)
				},
			},
			{
				Name: "if a value has the wrong type",
				Config: func(t *testing.T) string {
					return writeConfig(t, "evhttpd.toml", "[listen]\nip_version = \"ipv5\"\n")
				},
			},
			{
				Name: "if the static root does not exist",
				Config: func(t *testing.T) string {
					return writeConfig(t, "evhttpd.json", `{"static":[{"path":"/","root":"/does/not/exist"}]}`)
				},
			},
			{
				Name: "if the health path is relative",
				Config: func(t *testing.T) string {
					return writeConfig(t, "evhttpd.json", `{"health":"health"}`)
				},
			},
			{
				Name: "if a viper format file does not exist",
				Config: func(t *testing.T) string {
					return filepath.Join(t.TempDir(), "evhttpd.env")
				},
			},
			{
				Name: "if the certificate does not exist",
				Config: func(t *testing.T) string {
					return writeConfig(t, "evhttpd.json", `{"tls":{"certificate_chain_file":"/no/cert.pem","private_key_file":"/no/key.pem"}}`)
				},
			},
		}

		for _, testCase := range testCases {
			t.Run(testCase.Name, func(t *testing.T) {
				var stdout, stderr bytes.Buffer
				code := execute(context.Background(), []string{testCase.Config(t)}, &stdout, &stderr)

				assert.Equal(t, exitConfig, code, stderr.String())
				assert.Contains(t, stderr.String(), "evhttpd:")
			})
		}
	})

	t.Run("will exit 1", func(t *testing.T) {
		t.Run("if more than one argument is given", func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := execute(context.Background(), []string{"a.json", "b.json"}, &stdout, &stderr)

			assert.Equal(t, exitFailed, code)
		})
	})
}

func readDefaults(t *testing.T) Config {
	t.Helper()

	m, err := config.Read(config.FromYaml(config.RenderTextTemplate(bytes.NewReader(defaultsYaml))))
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, m.Unmarshal(&cfg))
	return cfg
}

func TestDefaults(t *testing.T) {
	t.Run("will listen on 8080 with health and json logs", func(t *testing.T) {
		t.Setenv("PORT", "")
		t.Setenv("OTEL_SERVICE_NAME", "")

		cfg := readDefaults(t)
		assert.Equal(t, uint16(8080), cfg.Listen.Port)
		assert.Equal(t, tcp.IPv4, cfg.Listen.IPVersion)
		assert.Equal(t, "/health", cfg.Health)
		assert.Equal(t, slog.LevelInfo, cfg.Log.Level)
		assert.Equal(t, otelslog.JSON, cfg.Log.Format)
		assert.Equal(t, "evhttpd", cfg.Telemetry.ServiceName)
	})

	t.Run("will take the port and service name from the environment", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		t.Setenv("OTEL_SERVICE_NAME", "static-site")

		cfg := readDefaults(t)
		assert.Equal(t, uint16(9090), cfg.Listen.Port)
		assert.Equal(t, "static-site", cfg.Telemetry.ServiceName)
	})
}

func TestExitCode(t *testing.T) {
	testCases := []struct {
		Name string
		Err  error
		Code int
	}{
		{Name: "nil", Err: nil, Code: exitOK},
		{Name: "read error", Err: evhttp.ConfigReadError{Cause: errors.New("x")}, Code: exitConfig},
		{Name: "unmarshal error", Err: evhttp.ConfigUnmarshalError{Cause: errors.New("x")}, Code: exitConfig},
		{Name: "validate error", Err: evhttp.ConfigValidateError{Cause: errors.New("x")}, Code: exitConfig},
		{Name: "build error", Err: evhttp.BuildError{Cause: errors.New("x")}, Code: exitConfig},
		{Name: "run error", Err: evhttp.RunError{Cause: errors.New("x")}, Code: exitFailed},
		{Name: "other error", Err: errors.New("x"), Code: exitFailed},
	}

	for _, testCase := range testCases {
		t.Run("will map "+testCase.Name, func(t *testing.T) {
			assert.Equal(t, testCase.Code, exitCode(testCase.Err))
		})
	}
}
