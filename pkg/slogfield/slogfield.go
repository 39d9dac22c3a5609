// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package slogfield provides the structured log attributes shared by the
// reactor, stream and web packages.
package slogfield

import (
	"log/slog"
	"net"
	"time"
)

// Any returns an slog.Attr for the supplied value.
func Any(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Bool returns an slog.Attr for a bool.
func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

// Duration returns an slog.Attr for a time.Duration.
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Duration(key, d)
}

// Error returns an slog.Attr for a error.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// String returns an slog.Attr for a string.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Strings returns an slog.Attr for a slice of strings.
func Strings(key string, values []string) slog.Attr {
	return slog.Any(key, values)
}

// Int returns an slog.Attr for a int.
func Int(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Int64 returns an slog.Attr for a int64.
func Int64(key string, n int64) slog.Attr {
	return slog.Int64(key, n)
}

// Uint32 returns an slog.Attr for a uint32.
func Uint32(key string, n uint32) slog.Attr {
	return slog.Uint64(key, uint64(n))
}

// Uint16 returns an slog.Attr for a uint16.
func Uint16(key string, n uint16) slog.Attr {
	return slog.Uint64(key, uint64(n))
}

// Event names the event being emitted or listened for.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// ConnectionID identifies an HTTP connection.
func ConnectionID(id string) slog.Attr {
	return slog.String("connection_id", id)
}

// Strand identifies a reactor strand.
func Strand(id int) slog.Attr {
	return slog.Int("strand", id)
}

// LocalAddr returns an slog.Attr for the local side of a socket.
func LocalAddr(addr net.Addr) slog.Attr {
	return addrAttr("local_addr", addr)
}

// RemoteAddr returns an slog.Attr for the remote side of a socket.
func RemoteAddr(addr net.Addr) slog.Attr {
	return addrAttr("remote_addr", addr)
}

func addrAttr(key string, addr net.Addr) slog.Attr {
	if addr == nil {
		return slog.String(key, "")
	}
	return slog.String(key, addr.String())
}

// Request groups the method and path of an HTTP request.
func Request(method, path string) slog.Attr {
	return slog.Group(
		"http",
		slog.String("method", method),
		slog.String("path", path),
	)
}

// Status returns an slog.Attr for an HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int("http_status", code)
}
