package protocol

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
)

// NewListener wraps ln with TLS when cfg is set.
func NewListener(ln net.Listener, cfg *tls.Config) net.Listener {
	if cfg == nil {
		return ln
	}
	return tls.NewListener(ln, cfg)
}

// LoadServerTLS loads the certificate and key presented by the server.
func LoadServerTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// LoadClientTLS trusts the system roots plus the certificate in certFile,
// typically the server's self-signed certificate. An empty certFile uses the
// system roots only.
func LoadClientTLS(certFile string) (*tls.Config, error) {
	roots, err := x509.SystemCertPool()
	if err != nil {
		roots = x509.NewCertPool()
	}
	if certFile != "" {
		pem, err := os.ReadFile(certFile)
		if err != nil {
			return nil, fmt.Errorf("read server certificate %s: %w", certFile, err)
		}
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse server certificate %s: invalid PEM data", certFile)
		}
	}
	return &tls.Config{
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	}, nil
}
