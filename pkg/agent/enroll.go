package agent

import (
	"context"
	"crypto/tls"

	"github.com/cuemby/fleetforge/pkg/security"
)

// Enroll requests a worker certificate from addr's Enrollment RPC using
// token, and returns a *tls.Config ready for dialing the Channel Hub.
func Enroll(ctx context.Context, addr, workerID, token string) (*tls.Config, error) {
	return security.EnrollClient(ctx, addr, "worker", workerID, token)
}
