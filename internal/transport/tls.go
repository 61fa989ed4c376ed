package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// TLSConfig configures the transport's TLS posture, shared by both the
// server listener and executor dial options.
type TLSConfig struct {
	Insecure      bool
	CertFile      string
	KeyFile       string
	CAFile        string
	SkipTLSVerify bool
}

func dialOptions(cfg *TLSConfig) ([]grpc.DialOption, error) {
	if cfg == nil || cfg.Insecure {
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig))}, nil
}

func serverCredentials(cfg *TLSConfig) (grpc.ServerOption, error) {
	if cfg == nil || cfg.Insecure {
		return nil, nil
	}
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	if len(tlsConfig.Certificates) == 0 {
		return nil, fmt.Errorf("transport: server TLS requires cert_file/key_file")
	}
	return grpc.Creds(credentials.NewTLS(tlsConfig)), nil
}

func buildTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.SkipTLSVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("transport: load key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		caData, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("transport: read CA file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(caData) {
			return nil, fmt.Errorf("transport: append CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// isConnectionError reports whether err looks like a transient transport
// problem worth retrying, as opposed to a permanent RPC-level rejection.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Unavailable, codes.Internal, codes.Unknown, codes.DeadlineExceeded, codes.Canceled:
		return true
	default:
		return false
	}
}
