package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/elskow/shotlog/internal/api"
)

// AccountServer is the authenticated gRPC surface for internal callers.
type AccountServer interface {
	GetProfile(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var accountServiceDesc = grpc.ServiceDesc{
	ServiceName: "shotlog.auth.v1.Account",
	HandlerType: (*AccountServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetProfile",
			Handler:    getProfileHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterAccountServer(s grpc.ServiceRegistrar, srv AccountServer) {
	s.RegisterService(&accountServiceDesc, srv)
}

func getProfileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccountServer).GetProfile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: api.GRPCAccountGetProfile,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccountServer).GetProfile(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCHandler serves AccountServer. The caller's identity is attached by
// AuthMiddleware.UnaryInterceptor.
type GRPCHandler struct {
	service *Service
	log     *zap.Logger
}

func NewGRPCHandler(service *Service, log *zap.Logger) *GRPCHandler {
	return &GRPCHandler{
		service: service,
		log:     log,
	}
}

func (h *GRPCHandler) GetProfile(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, err := IdentityFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	profile, err := h.service.GetProfile(ctx, id.UserID)
	if err != nil {
		return nil, h.grpcError(err)
	}

	return structpb.NewStruct(map[string]any{
		"id":        profile.ID.String(),
		"email":     profile.Email,
		"firstName": profile.FirstName,
		"lastName":  profile.LastName,
		"role":      string(profile.Role),
		"isAdmin":   profile.IsAdmin,
		"disabled":  profile.Disabled,
	})
}

func (h *GRPCHandler) grpcError(err error) error {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return status.Error(codes.NotFound, ErrUserNotFound.Error())
	case errors.Is(err, ErrTransientStore):
		h.log.Warn("storage unavailable", zap.Error(err))
		return status.Error(codes.Unavailable, "service temporarily unavailable, please retry")
	default:
		h.log.Error("unexpected error", zap.Error(err))
		return status.Error(codes.Internal, "internal server error")
	}
}
