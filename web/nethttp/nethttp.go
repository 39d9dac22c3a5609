// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package nethttp mounts [net/http] handlers on a web.Site.
//
// Bridged handlers run on the connection's strand, so they must not block.
package nethttp

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/z5labs/evhttp/web"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler adapts h to a web.HandlerFunc. The request body, if any, is read
// in full before h runs.
func Handler(h http.Handler) web.HandlerFunc {
	return func(req *web.Request, resp *web.Response) {
		n, ok := req.Headers.ContentLength()
		if !ok || n == 0 {
			serve(h, req, resp, nil)
			return
		}

		err := req.ReadBody(func(body []byte, err error) {
			if err != nil {
				badRequest(resp)
				return
			}
			serve(h, req, resp, body)
		})
		if err != nil {
			badRequest(resp)
		}
	}
}

// Instrument wraps h with otelhttp so every bridged request gets a span
// named after operation.
func Instrument(h http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(
		h,
		operation,
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
	)
}

func badRequest(resp *web.Response) {
	resp.SetStatus(http.StatusBadRequest)
	resp.End()
}

func serve(h http.Handler, req *web.Request, resp *web.Response, body []byte) {
	hr, err := toRequest(req, body)
	if err != nil {
		badRequest(resp)
		return
	}

	w := &responseWriter{
		resp:   resp,
		header: make(http.Header),
	}
	h.ServeHTTP(w, hr)
	w.finish()
}

func toRequest(req *web.Request, body []byte) (*http.Request, error) {
	target := req.URL.String()
	hr, err := http.NewRequestWithContext(req.Context(), req.Method.String(), target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	hr.RequestURI = target
	hr.Proto = "HTTP/" + strconv.Itoa(int(req.Major)) + "." + strconv.Itoa(int(req.Minor))
	hr.ProtoMajor = int(req.Major)
	hr.ProtoMinor = int(req.Minor)
	hr.Host = req.Headers.Get("Host")
	hr.ContentLength = int64(len(body))
	for _, h := range req.Headers {
		hr.Header.Add(h.Name, h.Value)
	}
	if addr := req.Connection().Socket().RemoteAddr(); addr != nil {
		hr.RemoteAddr = addr.String()
	}
	return hr, nil
}

// responseWriter buffers what the handler writes into a web.Response.
type responseWriter struct {
	resp        *web.Response
	header      http.Header
	wroteHeader bool
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.resp.SetStatus(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.resp.Write(b)
}

func (w *responseWriter) finish() {
	w.WriteHeader(http.StatusOK)
	for name, values := range w.header {
		for _, v := range values {
			w.resp.Headers.Add(name, v)
		}
	}
	w.resp.End()
}
