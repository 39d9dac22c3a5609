// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config reads layered configuration into Go structs.
//
// A [Source] sets key value pairs on a [Store]. [Read] applies sources in
// order, later ones overriding earlier ones, and [Manager.Unmarshal]
// decodes the result into a struct using `config` field tags:
//
//	m, err := config.Read(
//		config.FromYaml(config.RenderTextTemplate(bytes.NewReader(defaults))),
//		config.FromFile("evhttp.json"),
//		config.FromEnv("EVHTTP_"),
//	)
//	if err != nil {
//		return err
//	}
//
//	var cfg Config
//	err = m.Unmarshal(&cfg)
package config
