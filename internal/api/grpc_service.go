package api

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"hotelbook/internal/apperr"
	"hotelbook/internal/domain"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const bookingServiceName = "hotelbook.booking.v1.BookingService"

// BookingRPC is the gRPC booking surface. Messages are google.protobuf.Struct values that
// carry the same JSON documents as the HTTP API.
type BookingRPC interface {
	CheckAvailability(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CalculatePricing(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CreateBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CancelBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// BookingServiceDesc describes BookingRPC for grpc.Server.RegisterService.
var BookingServiceDesc = grpc.ServiceDesc{
	ServiceName: bookingServiceName,
	HandlerType: (*BookingRPC)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CheckAvailability", BookingRPC.CheckAvailability),
		unaryMethod("CalculatePricing", BookingRPC.CalculatePricing),
		unaryMethod("CreateBooking", BookingRPC.CreateBooking),
		unaryMethod("CancelBooking", BookingRPC.CancelBooking),
		unaryMethod("GetBooking", BookingRPC.GetBooking),
	},
	Streams: []grpc.StreamDesc{},
}

type rpcCall func(BookingRPC, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call rpcCall) grpc.MethodDesc {
	fullMethod := "/" + bookingServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BookingRPC), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BookingRPC), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// BookingRPCServer adapts the booking service to BookingRPC.
type BookingRPCServer struct {
	svc    domain.BookingService
	logger *zerolog.Logger
	now    func() time.Time
}

func NewBookingRPCServer(svc domain.BookingService, logger *zerolog.Logger) *BookingRPCServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BookingRPCServer{svc: svc, logger: logger, now: time.Now}
}

func (s *BookingRPCServer) CheckAvailability(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body availabilityCheckRequest
	if err := fromStruct(in, &body); err != nil {
		return nil, s.fail("CheckAvailability", err)
	}
	req, err := body.toModel()
	if err != nil {
		return nil, s.fail("CheckAvailability", err)
	}
	res, err := s.svc.CheckAvailability(ctx, req)
	if err != nil {
		return nil, s.fail("CheckAvailability", err)
	}
	return s.reply("CheckAvailability", newAvailabilityResponse(res))
}

func (s *BookingRPCServer) CalculatePricing(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body pricingRequest
	if err := fromStruct(in, &body); err != nil {
		return nil, s.fail("CalculatePricing", err)
	}
	req, err := body.toModel()
	if err != nil {
		return nil, s.fail("CalculatePricing", err)
	}
	quote, err := s.svc.CalculatePricing(ctx, req)
	if err != nil {
		return nil, s.fail("CalculatePricing", err)
	}
	return s.reply("CalculatePricing", quote)
}

// CreateBooking takes the idempotency key from the idempotency-key metadata entry, or
// from the idempotencyKey field when the metadata is absent.
func (s *BookingRPCServer) CreateBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body createBookingRequest
	if err := fromStruct(in, &body); err != nil {
		return nil, s.fail("CreateBooking", err)
	}

	key := body.IdempotencyKey
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := first(md.Get(idempotencyHeader)); v != "" {
			key = v
		}
	}

	req, err := body.toModel(CallerFrom(ctx).UserID, key)
	if err != nil {
		return nil, s.fail("CreateBooking", err)
	}
	booking, err := s.svc.CreateBooking(ctx, req)
	if err != nil {
		return nil, s.fail("CreateBooking", err)
	}
	return s.reply("CreateBooking", newBookingView(booking, s.now()))
}

func (s *BookingRPCServer) CancelBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body bookingIDRequest
	if err := fromStruct(in, &body); err != nil {
		return nil, s.fail("CancelBooking", err)
	}
	res, err := s.svc.CancelBooking(ctx, strings.TrimSpace(body.BookingID), CallerFrom(ctx).UserID)
	if err != nil {
		return nil, s.fail("CancelBooking", err)
	}
	return s.reply("CancelBooking", res)
}

func (s *BookingRPCServer) GetBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body bookingIDRequest
	if err := fromStruct(in, &body); err != nil {
		return nil, s.fail("GetBooking", err)
	}
	booking, err := s.svc.GetBooking(ctx, strings.TrimSpace(body.BookingID), CallerFrom(ctx).UserID)
	if err != nil {
		return nil, s.fail("GetBooking", err)
	}
	return s.reply("GetBooking", newBookingView(booking, s.now()))
}

func (s *BookingRPCServer) fail(method string, err error) error {
	if apperr.IsKind(err, apperr.KindInternal) {
		s.logger.Error().Err(err).Str("method", method).Msg("rpc failed")
	}
	return grpcError(err)
}

func (s *BookingRPCServer) reply(method string, v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, s.fail(method, apperr.Internal("failed to encode response", err))
	}
	return out, nil
}

// fromStruct decodes a Struct into dst through its JSON form.
func fromStruct(in *structpb.Struct, dst any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return apperr.Validationf("invalid request: %v", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.Validationf("invalid request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ BookingRPC = (*BookingRPCServer)(nil)
