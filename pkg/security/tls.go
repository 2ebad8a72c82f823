package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
)

// ServerTLSConfig issues (or reuses) a server certificate for the Channel
// Hub's gRPC listener and returns a *tls.Config that requests, but does not
// transport-level-require, a client certificate — exactly the teacher's
// server.go listener posture (tls.RequestClientCert), since the Enrollment
// RPC must be reachable by callers that don't have a certificate yet.
// Per-RPC enforcement for every other method is done by
// UnaryAuthInterceptor/StreamAuthInterceptor instead.
func (ca *CertAuthority) ServerTLSConfig(serverName string, ips []net.IP) (*tls.Config, error) {
	cert, err := ca.issue(serverName, "server-"+serverName, []string{serverName, "localhost"}, ips,
		[]x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth})
	if err != nil {
		return nil, fmt.Errorf("issue server certificate: %w", err)
	}

	pool := x509.NewCertPool()
	ca.mu.RLock()
	root := ca.rootCert
	ca.mu.RUnlock()
	if root == nil {
		return nil, fmt.Errorf("CA not initialized")
	}
	pool.AddCert(root)

	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequestClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// WorkerTLSConfig issues a worker client certificate and returns a
// *tls.Config a worker dials the Channel Hub with.
func (ca *CertAuthority) WorkerTLSConfig(workerID, serverName string) (*tls.Config, error) {
	cert, err := ca.IssueWorkerCertificate(workerID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("issue worker certificate: %w", err)
	}
	return clientTLSConfig(ca, cert, serverName)
}

// CLITLSConfig issues a fleetctl client certificate and returns a
// *tls.Config for dialing the AdminAPI.
func (ca *CertAuthority) CLITLSConfig(clientID, serverName string) (*tls.Config, error) {
	cert, err := ca.IssueClientCertificate(clientID)
	if err != nil {
		return nil, fmt.Errorf("issue client certificate: %w", err)
	}
	return clientTLSConfig(ca, cert, serverName)
}

func clientTLSConfig(ca *CertAuthority, cert *tls.Certificate, serverName string) (*tls.Config, error) {
	ca.mu.RLock()
	root := ca.rootCert
	ca.mu.RUnlock()
	if root == nil {
		return nil, fmt.Errorf("CA not initialized")
	}
	pool := x509.NewCertPool()
	pool.AddCert(root)

	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
