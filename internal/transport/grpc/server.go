package grpcx

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
	"github.com/developeragencia/conselhoscursor-sub003/internal/relay"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName: административный сервис relay. Сообщения это well-known
// типы protobuf, поэтому сгенерированные стабы не нужны.
const ServiceName = "relay.v1.RelayAdmin"

type Hub interface {
	Stats() relay.Stats
	Room(consultationID string) (relay.RoomView, bool)
	NotifyUser(identity string, payload json.RawMessage) bool
	Broadcast(payload json.RawMessage) int
}

// RelayAdminServer: серверная сторона relay.v1.RelayAdmin.
type RelayAdminServer interface {
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Room(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Notify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Broadcast(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type Server struct {
	hub Hub
}

func NewServer(hub Hub) *Server {
	return &Server{hub: hub}
}

// Register вешает RelayAdmin и стандартный health-сервис.
func Register(grpcServer *grpc.Server, s *Server) *health.Server {
	grpcServer.RegisterService(&RelayAdminServiceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)
	return hs
}

// -------- methods --------

func (s *Server) Stats(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.hub.Stats()
	return structpb.NewStruct(map[string]any{
		"connections":   st.Connections,
		"authenticated": st.Authenticated,
		"rooms":         st.Rooms,
		"awaitingPong":  st.AwaitingPong,
	})
}

func (s *Server) Room(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := strings.TrimSpace(stringField(in, "consultationId"))
	if id == "" {
		return nil, mapErr(domain.ErrMissingConsultation)
	}
	room, ok := s.hub.Room(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "consultation %q has no live room", id)
	}
	return structpb.NewStruct(map[string]any{
		"consultationId": room.ConsultationID,
		"client":         room.Client,
		"consultant":     room.Consultant,
		"lastActivity":   room.LastActivity.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (s *Server) Notify(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	identity := strings.TrimSpace(stringField(in, "identity"))
	if identity == "" {
		return nil, status.Error(codes.InvalidArgument, "identity is required")
	}
	payload, err := payloadField(in)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"delivered": s.hub.NotifyUser(identity, payload)})
}

func (s *Server) Broadcast(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	payload, err := payloadField(in)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"delivered": s.hub.Broadcast(payload)})
}

// -------- helpers --------

func stringField(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	return in.GetFields()[key].GetStringValue()
}

func payloadField(in *structpb.Struct) (json.RawMessage, error) {
	v, ok := in.GetFields()["payload"]
	if !ok || v == nil {
		return nil, status.Error(codes.InvalidArgument, "payload is required")
	}
	b, err := json.Marshal(v.AsInterface())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "payload is not valid json")
	}
	return b, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrMissingConsultation),
		errors.Is(err, domain.ErrBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrAuthentication):
		return status.Error(codes.Unauthenticated, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
