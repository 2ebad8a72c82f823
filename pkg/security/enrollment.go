package security

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/cuemby/fleetforge/api/proto"
)

// EnrollmentServer implements proto.EnrollmentServer: it validates a
// caller-supplied join token and, if it matches, issues a worker or CLI
// certificate from the CA. There is no separate token-issuing RPC (spec.md
// Non-goals rule out interactive approval flows) — a single pre-shared
// token, set via config, gates every enrollment, the simplest mechanism
// that still keeps the channel's mTLS meaningful against casual misuse.
type EnrollmentServer struct {
	proto.UnimplementedEnrollmentServer

	ca    *CertAuthority
	token string
}

// NewEnrollmentServer constructs an EnrollmentServer over ca, gated by
// token.
func NewEnrollmentServer(ca *CertAuthority, token string) *EnrollmentServer {
	return &EnrollmentServer{ca: ca, token: token}
}

// Enroll issues a certificate for the requesting worker or CLI identity.
func (s *EnrollmentServer) Enroll(ctx context.Context, req *proto.EnrollRequest) (*proto.EnrollResponse, error) {
	if !validToken(s.token, req.Token) {
		return nil, fmt.Errorf("invalid join token")
	}

	var cert *tls.Certificate
	var err error
	switch req.EntityType {
	case "worker":
		cert, err = s.ca.IssueWorkerCertificate(req.EntityID, nil, nil)
	case "cli":
		cert, err = s.ca.IssueClientCertificate(req.EntityID)
	default:
		return nil, fmt.Errorf("unknown entity type %q", req.EntityType)
	}
	if err != nil {
		return nil, fmt.Errorf("issue certificate: %w", err)
	}

	key, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("issued certificate has no RSA private key")
	}

	return &proto.EnrollResponse{
		CertDER: cert.Certificate[0],
		KeyDER:  x509.MarshalPKCS1PrivateKey(key),
		CADER:   s.ca.GetRootCACert(),
	}, nil
}

func validToken(expected, got string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
