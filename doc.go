// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package evhttp runs event driven TCP and HTTP servers.
//
// Everything happens on a reactor. Sockets are pinned to a
// strand and report what happens to them as events on an
// event emitter: "connect", "data_received", "write_completion", "closed"
// and "error". A web.Server accepts connections, parses one request per
// connection and dispatches it through a web.Site to the handler whose
// route matches best.
//
// [Run] is the entry point of a binary. It reads config sources,
// unmarshals them into the app's config type, builds the app and runs it:
//
//	err := evhttp.Run(
//		ctx,
//		evhttp.AppBuilderFunc[Config](build),
//		config.FromYaml(config.RenderTextTemplate(bytes.NewReader(defaults))),
//	)
package evhttp
