// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package wire

import (
	"strconv"
	"strings"
)

// QueryParam is one name with an optional value from a query string.
type QueryParam struct {
	Name     string
	Value    string
	HasValue bool
}

// AbsPath is an absolute URL path with its query and fragment, all kept
// undecoded.
type AbsPath struct {
	Path        string
	Query       []QueryParam
	Fragment    string
	HasFragment bool
}

// Get returns the value of the first query parameter called name.
func (a AbsPath) Get(name string) (string, bool) {
	for _, q := range a.Query {
		if q.Name == name {
			return q.Value, true
		}
	}
	return "", false
}

// String serializes a, the inverse of [ParseAbsPath].
func (a AbsPath) String() string {
	var sb strings.Builder
	a.writeTo(&sb)
	return sb.String()
}

func (a AbsPath) writeTo(sb *strings.Builder) {
	sb.WriteString(a.Path)
	for i, q := range a.Query {
		if i == 0 {
			sb.WriteByte('?')
		} else {
			sb.WriteByte('&')
		}
		sb.WriteString(q.Name)
		if q.HasValue {
			sb.WriteByte('=')
			sb.WriteString(q.Value)
		}
	}
	if a.HasFragment {
		sb.WriteByte('#')
		sb.WriteString(a.Fragment)
	}
}

// ParseAbsPath parses path [ "?" query ] [ "#" fragment ].
func ParseAbsPath(s string) (AbsPath, error) {
	p := &parser{in: []byte(s)}
	a, err := p.absPath()
	if err != nil {
		return AbsPath{}, err
	}
	if !p.done() {
		return AbsPath{}, p.fail("absolute-url-path", ErrMalformed)
	}
	return a, nil
}

func (p *parser) absPath() (AbsPath, error) {
	if p.peek() != '/' {
		return AbsPath{}, p.fail("path", ErrMalformed)
	}

	var a AbsPath
	a.Path = p.span(func(c byte) bool {
		return c != ' ' && c != '?' && c != '#' && !isCTL(c)
	})

	if p.accept("?") {
		a.Query = p.query()
	}
	if p.accept("#") {
		a.HasFragment = true
		a.Fragment = p.span(func(c byte) bool {
			return c != ' ' && !isCTL(c)
		})
	}
	return a, nil
}

// query parses pairs separated by '&' or ';'. Empty pairs are skipped.
func (p *parser) query() []QueryParam {
	var params []QueryParam
	for {
		name := p.span(func(c byte) bool {
			return c != ' ' && c != '#' && c != '&' && c != ';' && c != '=' && !isCTL(c)
		})

		q := QueryParam{Name: name}
		if p.accept("=") {
			q.HasValue = true
			q.Value = p.span(func(c byte) bool {
				return c != ' ' && c != '#' && c != '&' && c != ';' && !isCTL(c)
			})
		}
		if q.Name != "" || q.HasValue {
			params = append(params, q)
		}

		if !p.accept("&") && !p.accept(";") {
			return params
		}
	}
}

// Auth holds the user info of a URL.
type Auth struct {
	Username string
	Password string
}

// URL is an absolute URL.
type URL struct {
	Scheme  string
	Auth    *Auth
	Host    string
	Port    uint16
	HasPort bool
	Path    *AbsPath
}

// PortOr returns the port, or def if the URL has none.
func (u URL) PortOr(def uint16) uint16 {
	if !u.HasPort {
		return def
	}
	return u.Port
}

// RequestTarget returns the path to put in a request line, "/" if none.
func (u URL) RequestTarget() string {
	if u.Path == nil {
		return "/"
	}
	return u.Path.String()
}

// String serializes u, the inverse of [ParseURL].
func (u URL) String() string {
	var sb strings.Builder
	sb.WriteString(u.Scheme)
	sb.WriteString("://")
	if u.Auth != nil {
		sb.WriteString(u.Auth.Username)
		sb.WriteByte(':')
		sb.WriteString(u.Auth.Password)
		sb.WriteByte('@')
	}
	if strings.Contains(u.Host, ":") {
		sb.WriteByte('[')
		sb.WriteString(u.Host)
		sb.WriteByte(']')
	} else {
		sb.WriteString(u.Host)
	}
	if u.HasPort {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(int(u.Port)))
	}
	if u.Path != nil {
		u.Path.writeTo(&sb)
	}
	return sb.String()
}

// ParseURL parses scheme "://" [ user ":" pass "@" ] host [ ":" port ] [ path ].
func ParseURL(s string) (URL, error) {
	p := &parser{in: []byte(s)}

	var u URL
	if !isAlpha(p.peek()) {
		return URL{}, p.fail("scheme", ErrMalformed)
	}
	u.Scheme = p.span(func(c byte) bool {
		return isAlpha(c) || isDigit(c) || c == '+' || c == '-' || c == '.'
	})
	if err := p.expect("scheme", "://"); err != nil {
		return URL{}, err
	}

	authority := p.span(func(c byte) bool {
		return c != '/' && c != '?' && c != '#'
	})
	if err := u.parseAuthority(authority, p.pos-len(authority)); err != nil {
		return URL{}, err
	}

	if p.done() {
		return u, nil
	}
	path, err := p.absPath()
	if err != nil {
		return URL{}, err
	}
	if !p.done() {
		return URL{}, p.fail("url", ErrMalformed)
	}
	u.Path = &path
	return u, nil
}

func (u *URL) parseAuthority(s string, offset int) error {
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		user, pass, _ := strings.Cut(s[:i], ":")
		u.Auth = &Auth{Username: user, Password: pass}
		offset += i + 1
		s = s[i+1:]
	}

	hostport := s
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return ParseError{Offset: offset, Rule: "host", Cause: ErrMalformed}
		}
		u.Host = s[1:end]
		hostport = s[end+1:]
	} else {
		i := strings.IndexByte(s, ':')
		if i < 0 {
			i = len(s)
		}
		u.Host = s[:i]
		hostport = s[i:]
	}
	if u.Host == "" {
		return ParseError{Offset: offset, Rule: "host", Cause: ErrMalformed}
	}

	if hostport == "" {
		return nil
	}
	if hostport[0] != ':' {
		return ParseError{Offset: offset + len(s) - len(hostport), Rule: "port", Cause: ErrMalformed}
	}
	port, err := parsePort(hostport[1:])
	if err != nil {
		return ParseError{Offset: offset + len(s) - len(hostport) + 1, Rule: "port", Cause: err}
	}
	u.Port = port
	u.HasPort = true
	return nil
}

func parsePort(s string) (uint16, error) {
	if s == "" {
		return 0, ErrBadPort
	}
	var n uint32
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, ErrBadPort
		}
		n = n*10 + uint32(s[i]-'0')
		if n > 0xffff {
			return 0, ErrBadPort
		}
	}
	return uint16(n), nil
}
