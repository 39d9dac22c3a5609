// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"github.com/spf13/viper"
)

// Viper is a Source backed by a [viper.Viper] instance. Viper lower cases
// every key.
type Viper struct {
	v *viper.Viper
}

// FromViper returns a Source applying every setting v holds, including
// defaults, bound flags and config file values.
func FromViper(v *viper.Viper) Viper {
	return Viper{v: v}
}

// Apply implements the Source interface.
func (src Viper) Apply(store Store) error {
	return Map(src.v.AllSettings()).Apply(store)
}
