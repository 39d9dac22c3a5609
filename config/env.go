// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"os"
	"strings"

	"github.com/z5labs/evhttp/config/key"
)

// Env represents a Source where its underlying values
// are extracted from environment variables.
type Env struct {
	prefix  string
	environ func() []string
}

// FromEnv returns a Source which applies the environment variables
// starting with prefix. The prefix is stripped, the rest is lower cased
// and "__" separates nested keys, so with the prefix "EVHTTP_" the variable
// EVHTTP_LISTEN__PORT sets listen.port.
func FromEnv(prefix string) Env {
	return Env{
		prefix:  prefix,
		environ: os.Environ,
	}
}

// Apply implements the Source interface.
func (src Env) Apply(store Store) error {
	for _, pair := range src.environ() {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || !strings.HasPrefix(k, src.prefix) {
			continue
		}
		k = strings.ToLower(strings.TrimPrefix(k, src.prefix))

		var chain key.Chain
		for _, name := range strings.Split(k, "__") {
			if name == "" {
				continue
			}
			chain = append(chain, key.Name(name))
		}
		if len(chain) == 0 {
			continue
		}

		err := store.Set(chain, v)
		if err != nil {
			return err
		}
	}
	return nil
}
