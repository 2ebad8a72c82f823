package security

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// UnaryAuthInterceptor rejects any unary call whose peer did not present a
// certificate this CA can verify, except the methods listed in exempt (the
// enrollment RPC itself has no certificate yet — it authenticates with a
// join token instead). Mirrors the teacher's server.go TLS listener, which
// uses tls.RequestClientCert at the transport layer and leaves per-RPC
// enforcement to the handler; here it's centralized in one interceptor
// instead of repeated per method.
func (ca *CertAuthority) UnaryAuthInterceptor(exempt ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]bool, len(exempt))
	for _, m := range exempt {
		skip[m] = true
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if skip[info.FullMethod] {
			return handler(ctx, req)
		}
		if err := ca.verifyPeer(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor is the streaming-RPC counterpart of
// UnaryAuthInterceptor; the Channel Hub's Session RPC is the only stream in
// this build and is never exempt.
func (ca *CertAuthority) StreamAuthInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := ca.verifyPeer(ss.Context()); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func (ca *CertAuthority) verifyPeer(ctx context.Context) error {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "no peer information")
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(tlsInfo.State.PeerCertificates) == 0 {
		return status.Error(codes.Unauthenticated, "no client certificate presented")
	}
	if err := ca.VerifyCertificate(tlsInfo.State.PeerCertificates[0]); err != nil {
		return status.Errorf(codes.Unauthenticated, "certificate verification failed: %v", err)
	}
	return nil
}
