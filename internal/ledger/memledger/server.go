package memledger

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vultisig/walletd/internal/amount"
	"github.com/vultisig/walletd/internal/ledger"
	"github.com/vultisig/walletd/internal/principal"
)

// MaxClockSkew bounds the signed request timestamp.
const MaxClockSkew = 5 * time.Minute

type callerKey struct{}

func caller(ctx context.Context) principal.Principal {
	p, _ := ctx.Value(callerKey{}).(principal.Principal)
	return p
}

// NewServer returns a gRPC server exposing l under both variants.
func NewServer(l *Ledger, logger *logrus.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(authInterceptor(l, logger))}, opts...)
	s := grpc.NewServer(opts...)
	ledger.RegisterCanisterServer(s, &canisterServer{ledger: l})
	ledger.RegisterICRC1Server(s, &icrc1Server{ledger: l})
	return s
}

func authInterceptor(l *Ledger, logger *logrus.Logger) grpc.UnaryServerInterceptor {
	log := logger.WithField("pkg", "memledger.auth")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		p, err := ledger.VerifyRequest(md, info.FullMethod, l.now(), MaxClockSkew)
		if err != nil {
			log.WithError(err).WithField("method", info.FullMethod).Warn("rejected unsigned call")
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		if l.isBlocked(p) {
			return nil, status.Errorf(codes.PermissionDenied, "principal %s is blocked", p)
		}
		return handler(context.WithValue(ctx, callerKey{}, p), req)
	}
}

type canisterServer struct {
	ledger.UnimplementedCanisterServer
	ledger *Ledger
}

func (s *canisterServer) GetBalance(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	b := s.ledger.Balance(ledger.Account{Owner: caller(ctx)})
	return wrapperspb.String(b.Dec()), nil
}

func (s *canisterServer) UpdateFee(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	fee := s.ledger.applyFee()
	return ledger.Result(structpb.NewStringValue(fee.Dec())), nil
}

func (s *canisterServer) GetFee(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(s.ledger.fee(true).Dec()), nil
}

func (s *canisterServer) Withdraw(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	to, err := principal.FromText(in.GetFields()["to"].GetStringValue())
	if err != nil {
		return ledger.Reject(ReasonInvalidRecipient), nil
	}
	units, err := amount.Parse(in.GetFields()["amount"].GetStringValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid amount: %v", err)
	}

	_, reason := s.ledger.apply(transfer{
		from:   ledger.Account{Owner: caller(ctx)},
		to:     ledger.Account{Owner: to},
		amount: units,
		fee:    s.ledger.fee(true),
	})
	if reason != "" {
		return ledger.Reject(reason), nil
	}
	return ledger.Result(structpb.NewNullValue()), nil
}

func (s *canisterServer) Whoami(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(caller(ctx).String()), nil
}

type icrc1Server struct {
	ledger.UnimplementedICRC1Server
	ledger *Ledger
}

func (s *icrc1Server) BalanceOf(_ context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	acc, err := ledger.DecodeAccount(structpb.NewStructValue(in))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return wrapperspb.String(s.ledger.Balance(acc).Dec()), nil
}

func (s *icrc1Server) Fee(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(s.ledger.fee(false).Dec()), nil
}

func (s *icrc1Server) Transfer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	to, err := ledger.DecodeAccount(fields["to"])
	if err != nil {
		return ledger.Reject(ReasonInvalidRecipient), nil
	}
	units, err := amount.Parse(fields["amount"].GetStringValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid amount: %v", err)
	}

	expected := s.ledger.fee(false)
	if f, ok := fields["fee"]; ok {
		fee, err := amount.Parse(f.GetStringValue())
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid fee: %v", err)
		}
		if !fee.Eq(expected) {
			return badFee(expected), nil
		}
	}

	t := transfer{
		from:   ledger.Account{Owner: caller(ctx)},
		to:     to,
		amount: units,
		fee:    expected,
	}
	if m, ok := fields["memo"]; ok {
		if _, err := hex.DecodeString(m.GetStringValue()); err != nil {
			return nil, status.Error(codes.InvalidArgument, "memo must be hex")
		}
		t.memo = m.GetStringValue()
	}
	if c, ok := fields["created_at_time"]; ok {
		nanos, err := strconv.ParseInt(c.GetStringValue(), 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid created_at_time: %v", err)
		}
		createdAt := time.Unix(0, nanos)
		t.createdAt = &createdAt
	}

	index, reason := s.ledger.apply(t)
	if reason != "" {
		return ledger.Reject(reason), nil
	}
	return ledger.Result(structpb.NewStringValue(strconv.FormatUint(index, 10))), nil
}

func badFee(expected *uint256.Int) *structpb.Struct {
	detail := &structpb.Struct{Fields: map[string]*structpb.Value{
		"expected_fee": structpb.NewStringValue(expected.Dec()),
	}}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"err": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			ReasonBadFee: structpb.NewStructValue(detail),
		}}),
	}}
}
