package api

// HTTP routes
const (
	AuthRegister       = "/auth/register"
	AuthLogin          = "/auth/login"
	AuthRefresh        = "/auth/refresh"
	AuthLogout         = "/auth/logout"
	AuthForgotPassword = "/auth/forgot-password"
	AuthResetPassword  = "/auth/reset-password"

	UsersProfile  = "/users/profile"
	UsersPassword = "/users/password"

	AdminPrefix         = "/admin"
	AdminUsers          = "/users"
	AdminUser           = "/users/{id}"
	AdminUnlockUser     = "/users/{id}/unlock"
	AdminRevokeSessions = "/users/{id}/revoke-sessions"
	AdminAudit          = "/audit"

	Health = "/health"
)

// gRPC methods served by the internal listener
const (
	GRPCHealthCheck = "/grpc.health.v1.Health/Check"
	GRPCHealthWatch = "/grpc.health.v1.Health/Watch"

	GRPCAccountGetProfile = "/shotlog.auth.v1.Account/GetProfile"
)

// PublicGRPCMethods defines gRPC methods that don't require authentication.
// Reflection is public too and matched by prefix in the interceptor.
var PublicGRPCMethods = map[string]bool{
	GRPCHealthCheck: true,
	GRPCHealthWatch: true,
}

const GRPCReflectionPrefix = "/grpc.reflection."
