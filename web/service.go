// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package web

import (
	"net/http"

	"github.com/z5labs/evhttp/pkg/health"
	"github.com/z5labs/evhttp/wire"
)

// Service is a bundle of routes.
type Service interface {
	Register(*Site)
}

// ServiceFunc is a functional implementation of Service.
type ServiceFunc func(*Site)

// Register implements the [Service] interface.
func (f ServiceFunc) Register(s *Site) {
	f(s)
}

type methodHandler struct {
	method wire.Method
	h      HandlerFunc
}

// WebService serves one path with a handler per method.
type WebService struct {
	host     string
	path     string
	handlers []methodHandler
}

// NewWebService returns a WebService for path on any host.
func NewWebService(path string) *WebService {
	return &WebService{
		host: AnyHost,
		path: path,
	}
}

// ForHost restricts the service to requests for host.
func (ws *WebService) ForHost(host string) *WebService {
	ws.host = host
	return ws
}

// Handle sets the handler for method.
func (ws *WebService) Handle(method wire.Method, h HandlerFunc) *WebService {
	ws.handlers = append(ws.handlers, methodHandler{method: method, h: h})
	return ws
}

// Register implements the [Service] interface. Each method becomes its own route.
func (ws *WebService) Register(s *Site) {
	for _, mh := range ws.handlers {
		s.OnRequestsForHost(ws.host, mh.method, ws.path, mh.h)
	}
}

// HealthService answers GET and HEAD requests for path with 200 while m
// is healthy and 503 otherwise.
func HealthService(path string, m health.Metric) Service {
	h := func(req *Request, resp *Response) {
		code := http.StatusOK
		if !m.Healthy(req.Context()) {
			code = http.StatusServiceUnavailable
		}
		resp.SetStatus(code)
		resp.Headers.Set("Content-Type", "text/plain; charset=utf-8")
		resp.End([]byte(wire.Reason(code) + "\n"))
	}

	return NewWebService(path).
		Handle(wire.Get, h).
		Handle(wire.Head, h)
}
