package security

import (
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInitializedCA(t *testing.T) *CertAuthority {
	t.Helper()
	ca := NewCertAuthority()
	require.NoError(t, ca.Initialize())
	return ca
}

func TestInitializeCA(t *testing.T) {
	ca := newInitializedCA(t)

	assert.True(t, ca.IsInitialized())
	require.NotNil(t, ca.rootCert)
	assert.True(t, ca.rootCert.IsCA)

	expectedExpiry := time.Now().Add(rootCAValidity)
	assert.False(t, ca.rootCert.NotAfter.Before(expectedExpiry.Add(-time.Hour)))
}

func TestIssueWorkerCertificate(t *testing.T) {
	ca := newInitializedCA(t)

	cert, err := ca.IssueWorkerCertificate("worker-7", []string{}, []net.IP{})
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)

	assert.Equal(t, "worker-worker-7", cert.Leaf.Subject.CommonName)

	expectedExpiry := time.Now().Add(workerCertValidity)
	assert.False(t, cert.Leaf.NotAfter.Before(expectedExpiry.Add(-time.Hour)))

	assert.NotZero(t, cert.Leaf.KeyUsage&x509.KeyUsageDigitalSignature)

	var hasClientAuth, hasServerAuth bool
	for _, usage := range cert.Leaf.ExtKeyUsage {
		if usage == x509.ExtKeyUsageClientAuth {
			hasClientAuth = true
		}
		if usage == x509.ExtKeyUsageServerAuth {
			hasServerAuth = true
		}
	}
	assert.True(t, hasClientAuth)
	assert.True(t, hasServerAuth)
}

func TestIssueClientCertificate(t *testing.T) {
	ca := newInitializedCA(t)

	clientID := "user@machine"
	cert, err := ca.IssueClientCertificate(clientID)
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)

	assert.Equal(t, "cli-"+clientID, cert.Leaf.Subject.CommonName)

	var hasClientAuth, hasServerAuth bool
	for _, usage := range cert.Leaf.ExtKeyUsage {
		if usage == x509.ExtKeyUsageClientAuth {
			hasClientAuth = true
		}
		if usage == x509.ExtKeyUsageServerAuth {
			hasServerAuth = true
		}
	}
	assert.True(t, hasClientAuth)
	assert.False(t, hasServerAuth, "client certificates should not carry ServerAuth")
}

func TestVerifyCertificate(t *testing.T) {
	ca := newInitializedCA(t)

	cert, err := ca.IssueWorkerCertificate("test-worker", []string{}, []net.IP{})
	require.NoError(t, err)

	assert.NoError(t, ca.VerifyCertificate(cert.Leaf))
}

func TestVerifyCertificateRejectsForeignCert(t *testing.T) {
	ca := newInitializedCA(t)
	other := newInitializedCA(t)

	cert, err := other.IssueWorkerCertificate("test-worker", []string{}, []net.IP{})
	require.NoError(t, err)

	assert.Error(t, ca.VerifyCertificate(cert.Leaf))
}

func TestGetRootCACert(t *testing.T) {
	ca := newInitializedCA(t)

	rootCertDER := ca.GetRootCACert()
	require.NotNil(t, rootCertDER)

	parsedCert, err := x509.ParseCertificate(rootCertDER)
	require.NoError(t, err)
	assert.True(t, parsedCert.Equal(ca.rootCert))
}

func TestCertCache(t *testing.T) {
	ca := newInitializedCA(t)

	workerID := "test-worker"
	_, err := ca.IssueWorkerCertificate(workerID, []string{}, []net.IP{})
	require.NoError(t, err)

	cached, exists := ca.GetCachedCert(workerID)
	require.True(t, exists)
	require.NotNil(t, cached)
	assert.Equal(t, "worker-"+workerID, cached.Cert.Subject.CommonName)
}
