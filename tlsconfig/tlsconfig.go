// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package tlsconfig turns file based TLS settings into a [tls.Config].
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var (
	// ErrNoCertificates is returned when a CA file holds no PEM certificates.
	ErrNoCertificates = errors.New("tlsconfig: no certificates found")

	// ErrIncompleteKeyPair is returned when only one of the certificate chain
	// and the private key is set.
	ErrIncompleteKeyPair = errors.New("tlsconfig: certificate chain and private key must be set together")
)

// LoadError reports a TLS file which could not be used.
type LoadError struct {
	Path  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e LoadError) Error() string {
	return fmt.Sprintf("tlsconfig: failed to load %s: %s", e.Path, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e LoadError) Unwrap() error {
	return e.Cause
}

// Server holds the TLS settings of a listening server. TLS is enabled when
// both the certificate chain and the private key are set.
type Server struct {
	CAVerifyFile         string `config:"ca_verify_file" validate:"omitempty,file"`
	CertificateChainFile string `config:"certificate_chain_file" validate:"omitempty,file"`
	PrivateKeyFile       string `config:"private_key_file" validate:"omitempty,file"`

	// DHFile is accepted for compatibility. Go's TLS stack only negotiates
	// ECDHE, so the parameters are never loaded.
	DHFile string `config:"dh_file" validate:"omitempty,file"`
}

// Enabled reports whether TLS should be used.
func (s Server) Enabled() bool {
	return s.CertificateChainFile != "" && s.PrivateKeyFile != ""
}

// Build returns the server side [tls.Config], or nil if TLS is not enabled.
// The config requires TLS 1.2 or newer. When a CA file is set, clients must
// present a certificate signed by it.
func (s Server) Build() (*tls.Config, error) {
	if err := validate.Struct(s); err != nil {
		return nil, err
	}
	if (s.CertificateChainFile == "") != (s.PrivateKeyFile == "") {
		return nil, ErrIncompleteKeyPair
	}
	if !s.Enabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(s.CertificateChainFile, s.PrivateKeyFile)
	if err != nil {
		return nil, LoadError{Path: s.CertificateChainFile, Cause: err}
	}

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if s.CAVerifyFile == "" {
		return cfg, nil
	}

	pool, err := loadPool(s.CAVerifyFile)
	if err != nil {
		return nil, err
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	return cfg, nil
}

// Client holds the TLS settings used when dialing.
type Client struct {
	CAFile             string `config:"ca_file" validate:"omitempty,file"`
	ServerName         string `config:"server_name"`
	InsecureSkipVerify bool   `config:"insecure_skip_verify"`
}

// Build returns the client side [tls.Config].
func (c Client) Build() (*tls.Config, error) {
	if err := validate.Struct(c); err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
	if c.CAFile == "" {
		return cfg, nil
	}

	pool, err := loadPool(c.CAFile)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, LoadError{Path: path, Cause: err}
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(b) {
		return nil, LoadError{Path: path, Cause: ErrNoCertificates}
	}
	return pool, nil
}
