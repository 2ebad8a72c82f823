package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/cuemby/fleetforge/api/proto"
)

// enrolled is the raw material an Enroll RPC returns, before it's either
// turned directly into a *tls.Config (EnrollClient) or written to disk for
// reuse across CLI invocations (EnrollAndCache).
type enrolled struct {
	cert   tls.Certificate
	caCert *x509.Certificate
	caDER  []byte
}

func enroll(ctx context.Context, addr, entityType, entityID, token string) (*enrolled, error) {
	bootstrapCreds := credentials.NewTLS(&tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}) //nolint:gosec // no CA cert exists yet; the join token is the authentication factor here
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(bootstrapCreds))
	if err != nil {
		return nil, fmt.Errorf("dial for enrollment: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := proto.NewEnrollmentClient(conn).Enroll(ctx, &proto.EnrollRequest{
		EntityType: entityType,
		EntityID:   entityID,
		Token:      token,
	})
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}

	cert, err := x509.ParseCertificate(resp.CertDER)
	if err != nil {
		return nil, fmt.Errorf("parse issued certificate: %w", err)
	}
	key, err := x509.ParsePKCS1PrivateKey(resp.KeyDER)
	if err != nil {
		return nil, fmt.Errorf("parse issued private key: %w", err)
	}
	caCert, err := x509.ParseCertificate(resp.CADER)
	if err != nil {
		return nil, fmt.Errorf("parse CA certificate: %w", err)
	}

	return &enrolled{
		cert: tls.Certificate{
			Certificate: [][]byte{resp.CertDER},
			PrivateKey:  key,
			Leaf:        cert,
		},
		caCert: caCert,
		caDER:  resp.CADER,
	}, nil
}

func (e *enrolled) tlsConfig(serverName string) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(e.caCert)
	return &tls.Config{
		Certificates: []tls.Certificate{e.cert},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS13,
	}
}

// EnrollClient requests a certificate from addr's Enrollment RPC for the
// given entity ("worker" or "cli") and returns a *tls.Config ready for
// dialing the orchestrator with mTLS. Mirrors the teacher's
// client.NewClientWithToken/worker.go requestCertificate: connect once with
// server verification disabled (no CA cert exists yet), authenticate with
// the join token, then build a proper mTLS config from the response.
func EnrollClient(ctx context.Context, addr, entityType, entityID, token string) (*tls.Config, error) {
	e, err := enroll(ctx, addr, entityType, entityID, token)
	if err != nil {
		return nil, err
	}
	return e.tlsConfig("fleetforged"), nil
}

// EnrollAndCache enrolls exactly like EnrollClient, but also persists the
// issued certificate, key, and CA cert under certDir via SaveCertToFile/
// SaveCACertToFile — the teacher's own pkg/client caches a CLI's node
// certificate under ~/.warren/certs/cli the same way, so a later CLI
// invocation can skip enrollment entirely (see LoadCachedConfig).
func EnrollAndCache(ctx context.Context, addr, entityType, entityID, token, certDir string) (*tls.Config, error) {
	e, err := enroll(ctx, addr, entityType, entityID, token)
	if err != nil {
		return nil, err
	}
	if err := SaveCertToFile(&e.cert, certDir); err != nil {
		return nil, fmt.Errorf("cache issued certificate: %w", err)
	}
	if err := SaveCACertToFile(e.caDER, certDir); err != nil {
		return nil, fmt.Errorf("cache CA certificate: %w", err)
	}
	return e.tlsConfig("fleetforged"), nil
}

// LoadCachedConfig builds a *tls.Config from a certificate directory
// previously populated by EnrollAndCache, or returns (nil, nil) if no
// usable certificate is cached there (absent, or past its rotation
// threshold — the caller should re-enroll in that case).
func LoadCachedConfig(certDir string) (*tls.Config, error) {
	if !CertExists(certDir) {
		return nil, nil
	}
	cert, err := LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("load cached certificate: %w", err)
	}
	if CertNeedsRotation(cert.Leaf) {
		return nil, nil
	}
	caCert, err := LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("load cached CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		ServerName:   "fleetforged",
		MinVersion:   tls.VersionTLS13,
	}, nil
}
