package auth

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/elskow/shotlog/internal/api"
)

const bearerPrefix = "bearer "

// AuthMiddleware is the access control gate. It only verifies access tokens
// and never touches the refresh ledger.
type AuthMiddleware struct {
	signer *TokenSigner
}

func NewAuthMiddleware(signer *TokenSigner) *AuthMiddleware {
	return &AuthMiddleware{signer: signer}
}

// Authenticate resolves an authorization header value to an identity.
func (m *AuthMiddleware) Authenticate(header string) (Identity, error) {
	token, ok := bearerToken(header)
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	id, err := m.signer.Verify(token)
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// RequireAuth rejects requests without a valid bearer token and attaches the identity.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="shotlog"`)
			api.WriteError(w, http.StatusUnauthorized, ErrUnauthenticated.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireRole must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := IdentityFromContext(r.Context())
			if err != nil {
				api.WriteError(w, http.StatusUnauthorized, ErrUnauthenticated.Error())
				return
			}
			if !hasRole(id, role) {
				api.WriteError(w, http.StatusForbidden, ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return m.RequireAuth(m.RequireRole(RoleAdmin)(next))
}

// AuthenticationMiddleware authenticates a gRPC call from its "authorization" metadata.
func (m *AuthMiddleware) AuthenticationMiddleware(ctx context.Context) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	header := values[0]
	if !strings.HasPrefix(strings.ToLower(header), bearerPrefix) {
		header = "Bearer " + header
	}

	id, err := m.Authenticate(header)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	return WithIdentity(ctx, id), nil
}

func (m *AuthMiddleware) UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if isPublicMethod(info.FullMethod) {
		return handler(ctx, req)
	}

	ctx, err := m.AuthenticationMiddleware(ctx)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (m *AuthMiddleware) StreamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if isPublicMethod(info.FullMethod) {
		return handler(srv, ss)
	}

	ctx, err := m.AuthenticationMiddleware(ss.Context())
	if err != nil {
		return err
	}
	return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context {
	return s.ctx
}

func isPublicMethod(method string) bool {
	return api.PublicGRPCMethods[method] || strings.HasPrefix(method, api.GRPCReflectionPrefix)
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

func hasRole(id Identity, role Role) bool {
	if role == RoleAdmin {
		return id.IsAdmin()
	}
	return id.Role == role || id.IsAdmin()
}
