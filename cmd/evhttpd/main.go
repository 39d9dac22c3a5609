// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command evhttpd serves static directories over HTTP/1.1.
//
// Usage:
//
//	evhttpd [config file]
//
// The config file may be JSON, YAML or TOML, or any other format viper reads.
// Without one the server listens on $PORT, or 8080, and answers GET / with a
// hello page. Environment variables prefixed with EVHTTP_ override file
// values, with "__" separating nested keys, e.g. EVHTTP_LISTEN__PORT=8443.
package main

import (
	"context"
	"os"
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
