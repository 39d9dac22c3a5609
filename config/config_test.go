// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/z5labs/evhttp/config/key"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type level int

func (l *level) UnmarshalText(b []byte) error {
	switch string(b) {
	case "low":
		*l = 1
	case "high":
		*l = 2
	default:
		return errors.New("unknown level")
	}
	return nil
}

type listenConfig struct {
	Host string `config:"host"`
	Port uint16 `config:"port"`
}

type testConfig struct {
	Name     string        `config:"name"`
	Debug    bool          `config:"debug"`
	Timeout  time.Duration `config:"timeout"`
	Level    level         `config:"level"`
	Listen   listenConfig  `config:"listen"`
	Defaults []string      `config:"defaults"`
}

func TestRead(t *testing.T) {
	t.Run("will return an empty manager", func(t *testing.T) {
		t.Run("if no sources are given", func(t *testing.T) {
			m, err := Read()
			require.NoError(t, err)

			var cfg testConfig
			require.NoError(t, m.Unmarshal(&cfg))
			assert.Equal(t, testConfig{}, cfg)
		})
	})

	t.Run("will let later sources override earlier ones", func(t *testing.T) {
		m, err := Read(
			Map{"name": "first", "listen": map[string]any{"host": "localhost", "port": 80}},
			Map{"listen": map[string]any{"port": 8080}},
		)
		require.NoError(t, err)

		var cfg testConfig
		require.NoError(t, m.Unmarshal(&cfg))
		assert.Equal(t, "first", cfg.Name)
		assert.Equal(t, "localhost", cfg.Listen.Host)
		assert.Equal(t, uint16(8080), cfg.Listen.Port)
	})

	t.Run("will return the source error", func(t *testing.T) {
		srcErr := errors.New("failed")
		_, err := Read(SourceFunc(func(Store) error {
			return srcErr
		}))
		assert.ErrorIs(t, err, srcErr)
	})

	t.Run("will fail to nest a key under a plain value", func(t *testing.T) {
		_, err := Read(
			Map{"listen": "nope"},
			Map{"listen": map[string]any{"port": 1}},
		)

		var kerr UnexpectedKeyValueTypeError
		require.ErrorAs(t, err, &kerr)
		assert.Equal(t, "listen", kerr.Key)
	})

	t.Run("will reject an empty key chain", func(t *testing.T) {
		_, err := Read(SourceFunc(func(s Store) error {
			return s.Set(key.Chain{}, 1)
		}))

		var kerr EmptyKeyChainError
		assert.ErrorAs(t, err, &kerr)
	})
}

func TestManager_Get(t *testing.T) {
	m, err := Read(Map{"listen": map[string]any{"port": 8080}})
	require.NoError(t, err)

	v, ok := m.Get(key.Parse("listen.port"))
	require.True(t, ok)
	assert.Equal(t, 8080, v)

	_, ok = m.Get(key.Parse("listen.host"))
	assert.False(t, ok)

	_, ok = m.Get(key.Parse("listen.port.value"))
	assert.False(t, ok)
}

func TestManager_Unmarshal(t *testing.T) {
	t.Run("will decode strings", func(t *testing.T) {
		testCases := []struct {
			Name   string
			Src    Map
			Assert func(*testing.T, testConfig)
		}{
			{
				Name: "into durations",
				Src:  Map{"timeout": "1m30s"},
				Assert: func(t *testing.T, cfg testConfig) {
					assert.Equal(t, 90*time.Second, cfg.Timeout)
				},
			},
			{
				Name: "into text unmarshalers",
				Src:  Map{"level": "high"},
				Assert: func(t *testing.T, cfg testConfig) {
					assert.Equal(t, level(2), cfg.Level)
				},
			},
			{
				Name: "into numbers",
				Src:  Map{"listen": map[string]any{"port": "9090"}},
				Assert: func(t *testing.T, cfg testConfig) {
					assert.Equal(t, uint16(9090), cfg.Listen.Port)
				},
			},
			{
				Name: "into booleans",
				Src:  Map{"debug": "true"},
				Assert: func(t *testing.T, cfg testConfig) {
					assert.True(t, cfg.Debug)
				},
			},
		}

		for _, testCase := range testCases {
			t.Run(testCase.Name, func(t *testing.T) {
				m, err := Read(testCase.Src)
				require.NoError(t, err)

				var cfg testConfig
				require.NoError(t, m.Unmarshal(&cfg))
				testCase.Assert(t, cfg)
			})
		}
	})

	t.Run("will decode integers into durations", func(t *testing.T) {
		m, err := Read(Map{"timeout": int(time.Second)})
		require.NoError(t, err)

		var cfg testConfig
		require.NoError(t, m.Unmarshal(&cfg))
		assert.Equal(t, time.Second, cfg.Timeout)
	})

	t.Run("will return a TypeCoercionError", func(t *testing.T) {
		testCases := []struct {
			Name string
			Src  Map
		}{
			{Name: "if the duration is malformed", Src: Map{"timeout": "soon"}},
			{Name: "if the text unmarshaler fails", Src: Map{"level": "extreme"}},
		}

		for _, testCase := range testCases {
			t.Run(testCase.Name, func(t *testing.T) {
				m, err := Read(testCase.Src)
				require.NoError(t, err)

				var cfg testConfig
				err = m.Unmarshal(&cfg)

				var cerr TypeCoercionError
				require.ErrorAs(t, err, &cerr)
				assert.NotEmpty(t, cerr.Error())
			})
		}
	})
}

func TestEnv_Apply(t *testing.T) {
	src := Env{
		prefix: "EVHTTP_",
		environ: func() []string {
			return []string{
				"EVHTTP_NAME=env",
				"EVHTTP_LISTEN__PORT=8443",
				"EVHTTP_=ignored",
				"OTHER_NAME=ignored",
				"malformed",
			}
		},
	}

	m, err := Read(Map{"listen": map[string]any{"host": "0.0.0.0"}}, src)
	require.NoError(t, err)

	var cfg testConfig
	require.NoError(t, m.Unmarshal(&cfg))
	assert.Equal(t, "env", cfg.Name)
	assert.Equal(t, "0.0.0.0", cfg.Listen.Host)
	assert.Equal(t, uint16(8443), cfg.Listen.Port)
}

func TestFormats(t *testing.T) {
	testCases := []struct {
		Name string
		Src  Source
	}{
		{
			Name: "json",
			Src:  FromJson(strings.NewReader(`{"name":"svc","listen":{"host":"::1","port":8080},"defaults":["index.html"]}`)),
		},
		{
			Name: "yaml",
			Src: FromYaml(strings.NewReader(`
name: svc
listen:
  host: "::1"
  port: 8080
defaults:
  - index.html
`)),
		},
		{
			Name: "toml",
			Src: FromToml(strings.NewReader(`
name = "svc"
defaults = ["index.html"]

[listen]
host = "::1"
port = 8080
`)),
		},
	}

	for _, testCase := range testCases {
		t.Run("will apply "+testCase.Name, func(t *testing.T) {
			m, err := Read(testCase.Src)
			require.NoError(t, err)

			var cfg testConfig
			require.NoError(t, m.Unmarshal(&cfg))
			assert.Equal(t, "svc", cfg.Name)
			assert.Equal(t, "::1", cfg.Listen.Host)
			assert.Equal(t, uint16(8080), cfg.Listen.Port)
			assert.Equal(t, []string{"index.html"}, cfg.Defaults)
		})
	}

	t.Run("will return a format error", func(t *testing.T) {
		t.Run("if the json is invalid", func(t *testing.T) {
			_, err := Read(FromJson(strings.NewReader(`{`)))

			var ferr InvalidJsonError
			assert.ErrorAs(t, err, &ferr)
		})

		t.Run("if the yaml is invalid", func(t *testing.T) {
			_, err := Read(FromYaml(strings.NewReader("a: [")))

			var ferr InvalidYamlError
			assert.ErrorAs(t, err, &ferr)
		})

		t.Run("if the toml is invalid", func(t *testing.T) {
			_, err := Read(FromToml(strings.NewReader("a = ")))

			var ferr InvalidTomlError
			assert.ErrorAs(t, err, &ferr)
		})
	})
}
