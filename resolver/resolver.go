// Package resolver chooses, per outbound S3 call, which credentials provider
// the call is signed with.
package resolver

import (
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// CredentialsResolver picks the credentials provider for a single S3 call.
//
// Resolve may return nil, in which case the caller keeps its default
// credentials provider. Implementations are shared by every goroutine of a
// session, must not modify the call, must accept calls without bucket,
// resources or requests, and report problems by logging and returning nil.
type CredentialsResolver interface {
	Resolve(call Call) aws.CredentialsProvider
}

// ResolverFunc adapts a plain function to CredentialsResolver.
type ResolverFunc func(call Call) aws.CredentialsProvider

func (f ResolverFunc) Resolve(call Call) aws.CredentialsProvider {
	return f(call)
}

// ResolveOrDefault invokes r for call. A nil resolver or a resolver that
// panics yields nil, so the caller falls back to its default chain.
func ResolveOrDefault(r CredentialsResolver, call Call) (provider aws.CredentialsProvider) {
	if r == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Credentials resolver panicked, using default credentials",
				"call", fmt.Sprint(call),
				"panic", rec)
			provider = nil
		}
	}()
	return r.Resolve(call)
}
