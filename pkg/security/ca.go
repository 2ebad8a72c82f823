// Package security issues and verifies the mTLS certificates worker
// sessions use to authenticate to the orchestrator's Channel Hub
// (SPEC_FULL.md S4.4).
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"
)

// CertAuthority is the orchestrator's own root CA, used to issue and verify
// worker and client certificates. Unlike the teacher's CertAuthority, this
// one isn't persisted through storage.Store: this domain runs a single
// orchestrator process rather than a cluster of managers that must agree on
// a shared root, so the CA lives for the process lifetime (see DESIGN.md).
type CertAuthority struct {
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey

	mu        sync.RWMutex
	certCache map[string]*CachedCert
}

// CachedCert is a previously issued certificate and its key.
type CachedCert struct {
	Cert      *x509.Certificate
	Key       *rsa.PrivateKey
	IssuedAt  time.Time
	ExpiresAt time.Time
}

const (
	rootCAValidity   = 10 * 365 * 24 * time.Hour
	workerCertValidity = 90 * 24 * time.Hour
	rootKeySize      = 4096
	workerKeySize    = 2048
)

// NewCertAuthority returns an uninitialized CertAuthority; call Initialize
// before issuing certificates.
func NewCertAuthority() *CertAuthority {
	return &CertAuthority{certCache: make(map[string]*CachedCert)}
}

// Initialize generates a fresh self-signed root CA.
func (ca *CertAuthority) Initialize() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return fmt.Errorf("generate root key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"fleetforge"},
			CommonName:   "fleetforge Root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
		MaxPathLenZero:        false,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parse root certificate: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// IssueWorkerCertificate issues a short-lived client+server certificate a
// worker uses to authenticate to the Channel Hub.
func (ca *CertAuthority) IssueWorkerCertificate(workerID string, dnsNames []string, ipAddresses []net.IP) (*tls.Certificate, error) {
	return ca.issue(fmt.Sprintf("worker-%s", workerID), workerID, dnsNames, ipAddresses,
		[]x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth})
}

// IssueClientCertificate issues a certificate for the fleetctl CLI.
func (ca *CertAuthority) IssueClientCertificate(clientID string) (*tls.Certificate, error) {
	return ca.issue(fmt.Sprintf("cli-%s", clientID), clientID, nil, nil,
		[]x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth})
}

func (ca *CertAuthority) issue(commonName, cacheKey string, dnsNames []string, ipAddresses []net.IP, extKeyUsage []x509.ExtKeyUsage) (*tls.Certificate, error) {
	ca.mu.RLock()
	rootCert, rootKey := ca.rootCert, ca.rootKey
	ca.mu.RUnlock()

	if rootCert == nil || rootKey == nil {
		return nil, fmt.Errorf("CA not initialized")
	}

	key, err := rsa.GenerateKey(rand.Reader, workerKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{Organization: []string{"fleetforge"}, CommonName: commonName},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(workerCertValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  extKeyUsage,
		DNSNames:     dnsNames,
		IPAddresses:  ipAddresses,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	ca.cacheCertificate(cacheKey, cert, key)

	return &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// VerifyCertificate verifies cert chains to this CA's root.
func (ca *CertAuthority) VerifyCertificate(cert *x509.Certificate) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return fmt.Errorf("CA not initialized")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca.rootCert)

	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}

// GetRootCACert returns the root CA certificate in DER form.
func (ca *CertAuthority) GetRootCACert() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.rootCert == nil {
		return nil
	}
	return ca.rootCert.Raw
}

// IsInitialized reports whether Initialize has completed successfully.
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert != nil && ca.rootKey != nil
}

func (ca *CertAuthority) cacheCertificate(id string, cert *x509.Certificate, key *rsa.PrivateKey) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.certCache[id] = &CachedCert{
		Cert:      cert,
		Key:       key,
		IssuedAt:  time.Now(),
		ExpiresAt: cert.NotAfter,
	}
}

// GetCachedCert returns a previously issued certificate by id, if cached.
func (ca *CertAuthority) GetCachedCert(id string) (*CachedCert, bool) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	c, ok := ca.certCache[id]
	return c, ok
}
