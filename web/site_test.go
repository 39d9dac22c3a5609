// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package web

import (
	"testing"

	"github.com/z5labs/evhttp/wire"

	"github.com/stretchr/testify/assert"
)

var matched string

// named returns a handler which records name into matched.
func named(name string) HandlerFunc {
	return func(*Request, *Response) {
		matched = name
	}
}

// matchName returns the name of the handler matching the request, or "".
func matchName(t *testing.T, s *Site, host string, method wire.Method, path string) string {
	t.Helper()

	matched = ""
	h, ok := s.Match(host, method, path)
	if !ok {
		return ""
	}
	h(nil, nil)
	return matched
}

func TestSite_Match(t *testing.T) {
	t.Run("will match the root path", func(t *testing.T) {
		testCases := []struct {
			Name    string
			Pattern string
		}{
			{Name: "if the route is exactly /", Pattern: "/"},
			{Name: "if the route is /*", Pattern: "/*"},
		}

		for _, testCase := range testCases {
			t.Run(testCase.Name, func(t *testing.T) {
				s := NewSite()
				s.OnRequestsFor(wire.Get, testCase.Pattern, named("root"))

				assert.Equal(t, "root", matchName(t, s, "", wire.Get, "/"))
			})
		}
	})

	t.Run("will not match", func(t *testing.T) {
		t.Run("if an exact route is only a prefix of the path", func(t *testing.T) {
			s := NewSite()
			s.OnRequestsFor(wire.Get, "/status", named("status"))

			_, ok := s.Match("", wire.Get, "/status/deep")
			assert.False(t, ok)
		})

		t.Run("if the method differs", func(t *testing.T) {
			s := NewSite()
			s.OnRequestsFor(wire.Post, "/*", named("post"))

			_, ok := s.Match("", wire.Get, "/")
			assert.False(t, ok)
		})

		t.Run("if the host differs", func(t *testing.T) {
			s := NewSite()
			s.OnRequestsForHost("a.example", wire.Get, "/*", named("a"))

			_, ok := s.Match("b.example", wire.Get, "/")
			assert.False(t, ok)
		})

		t.Run("if the request has no host and the route has one", func(t *testing.T) {
			s := NewSite()
			s.OnRequestsForHost("a.example", wire.Get, "/*", named("a"))

			_, ok := s.Match("", wire.Get, "/")
			assert.False(t, ok)
		})
	})

	t.Run("will prefer", func(t *testing.T) {
		t.Run("a concrete host over any host", func(t *testing.T) {
			s := NewSite()
			s.OnRequestsFor(wire.Get, "/long/path/*", named("any"))
			s.OnRequestsForHost("a.example", wire.Get, "/*", named("host"))

			assert.Equal(t, "host", matchName(t, s, "A.example", wire.Get, "/long/path/x"))
			assert.Equal(t, "any", matchName(t, s, "b.example", wire.Get, "/long/path/x"))
		})

		t.Run("the longest prefix", func(t *testing.T) {
			s := NewSite()
			s.OnRequestsFor(wire.Get, "/*", named("root"))
			s.OnRequestsFor(wire.Get, "/api/*", named("api"))
			s.OnRequestsFor(wire.Get, "/api/v1/*", named("v1"))

			assert.Equal(t, "v1", matchName(t, s, "", wire.Get, "/api/v1/users"))
			assert.Equal(t, "api", matchName(t, s, "", wire.Get, "/api/v2/users"))
			assert.Equal(t, "root", matchName(t, s, "", wire.Get, "/other"))
		})

		t.Run("an exact route over a prefix of the same length", func(t *testing.T) {
			s := NewSite()
			s.OnRequestsFor(wire.Get, "/a*", named("prefix"))
			s.OnRequestsFor(wire.Get, "/a", named("exact"))

			assert.Equal(t, "exact", matchName(t, s, "", wire.Get, "/a"))
			assert.Equal(t, "prefix", matchName(t, s, "", wire.Get, "/ab"))
		})

		t.Run("the first registered route on a tie", func(t *testing.T) {
			s := NewSite()
			s.OnRequestsFor(wire.Any, "/x", named("first"))
			s.OnRequestsFor(wire.Get, "/x", named("second"))

			assert.Equal(t, "first", matchName(t, s, "", wire.Get, "/x"))
		})
	})
}

func TestSite_Routes(t *testing.T) {
	s := NewSite()
	s.OnRequestsFor(wire.Get, "/*", named("root"))
	s.OnRequestsForHost("a.example", wire.Post, "/in", named("in"))
	s.OnRequestsFor(wire.Any, "/status", named("status"))

	assert.Equal(t, []string{
		"a.example POST /in",
		"* ANY /status",
		"* GET /*",
	}, s.Routes())
}

func TestWebService_Register(t *testing.T) {
	t.Run("will add a route per method", func(t *testing.T) {
		s := NewSite()
		s.Register(
			NewWebService("/items").
				ForHost("shop.example").
				Handle(wire.Get, named("list")).
				Handle(wire.Post, named("create")),
		)

		assert.Equal(t, []string{
			"shop.example GET /items",
			"shop.example POST /items",
		}, s.Routes())
		assert.Equal(t, "create", matchName(t, s, "shop.example", wire.Post, "/items"))
	})
}

func TestSite_EmitPageError(t *testing.T) {
	t.Run("will use the page for the code", func(t *testing.T) {
		s := NewSite()

		var got int
		s.OnPageError(404, func(_ *Request, _ *Response, code int) {
			got = code
		})
		s.OnAnyPageError(func(*Request, *Response, int) {
			got = -1
		})

		s.EmitPageError(nil, nil, 404)
		assert.Equal(t, 404, got)
	})

	t.Run("will fall back to the catch-all page", func(t *testing.T) {
		t.Run("if the code has no page", func(t *testing.T) {
			s := NewSite()

			var got int
			s.OnAnyPageError(func(_ *Request, _ *Response, code int) {
				got = -code
			})

			s.EmitPageError(nil, nil, 500)
			assert.Equal(t, -500, got)
		})

		t.Run("if the page for the code was removed", func(t *testing.T) {
			s := NewSite()

			var got string
			s.OnPageError(404, func(*Request, *Response, int) {
				got = "specific"
			})
			s.OnAnyPageError(func(*Request, *Response, int) {
				got = "any"
			})
			s.ExceptOnPageError(404)

			s.EmitPageError(nil, nil, 404)
			assert.Equal(t, "any", got)
		})
	})
}
