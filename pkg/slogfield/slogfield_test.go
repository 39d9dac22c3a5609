// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package slogfield

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJsonHandler(t *testing.T) {
	testCases := []struct {
		Name     string
		Attrs    []slog.Attr
		Validate func(*testing.T, map[string]any)
	}{
		{
			Name:  "duration",
			Attrs: []slog.Attr{Duration("value", 5*time.Second)},
			Validate: func(t *testing.T, m map[string]any) {
				assert.Equal(t, float64(5*time.Second), m["value"])
			},
		},
		{
			Name:  "error",
			Attrs: []slog.Attr{Error(errors.New("hello"))},
			Validate: func(t *testing.T, m map[string]any) {
				assert.Equal(t, "hello", m["error"])
			},
		},
		{
			Name:  "event",
			Attrs: []slog.Attr{Event("data_received")},
			Validate: func(t *testing.T, m map[string]any) {
				assert.Equal(t, "data_received", m["event"])
			},
		},
		{
			Name: "addresses",
			Attrs: []slog.Attr{
				LocalAddr(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}),
				RemoteAddr(nil),
			},
			Validate: func(t *testing.T, m map[string]any) {
				assert.Equal(t, "127.0.0.1:8080", m["local_addr"])
				assert.Equal(t, "", m["remote_addr"])
			},
		},
		{
			Name:  "request",
			Attrs: []slog.Attr{Request("GET", "/index.html"), Status(200)},
			Validate: func(t *testing.T, m map[string]any) {
				group, ok := m["http"].(map[string]any)
				if !assert.True(t, ok) {
					return
				}
				assert.Equal(t, "GET", group["method"])
				assert.Equal(t, "/index.html", group["path"])
				assert.Equal(t, float64(200), m["http_status"])
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))

			log.LogAttrs(context.Background(), slog.LevelInfo, "hello", testCase.Attrs...)

			var m map[string]any
			err := json.Unmarshal(buf.Bytes(), &m)
			if !assert.Nil(t, err) {
				return
			}
			testCase.Validate(t, m)
		})
	}
}
