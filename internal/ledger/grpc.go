package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vultisig/walletd/internal/amount"
	"github.com/vultisig/walletd/internal/identity"
	"github.com/vultisig/walletd/internal/principal"
)

// The ledger services use protobuf well-known types so neither side needs a
// protoc toolchain. Nat values travel as decimal strings; results are a
// Struct with exactly one of "ok" or "err".

const (
	CanisterServiceName = "walletd.ledger.v1.Canister"
	ICRC1ServiceName    = "walletd.ledger.v1.ICRC1"

	MethodGetBalance = "/" + CanisterServiceName + "/GetBalance"
	MethodUpdateFee  = "/" + CanisterServiceName + "/UpdateFee"
	MethodGetFee     = "/" + CanisterServiceName + "/GetFee"
	MethodWithdraw   = "/" + CanisterServiceName + "/Withdraw"
	MethodWhoami     = "/" + CanisterServiceName + "/Whoami"

	MethodBalanceOf = "/" + ICRC1ServiceName + "/BalanceOf"
	MethodFee       = "/" + ICRC1ServiceName + "/Fee"
	MethodTransfer  = "/" + ICRC1ServiceName + "/Transfer"
)

// CanisterServer is the server API of the token dApp backend.
type CanisterServer interface {
	GetBalance(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	UpdateFee(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetFee(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	Withdraw(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Whoami(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

// ICRC1Server is the server API of a standard token ledger.
type ICRC1Server interface {
	BalanceOf(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	Fee(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	Transfer(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedCanisterServer can be embedded to have forward compatible implementations.
type UnimplementedCanisterServer struct{}

func (UnimplementedCanisterServer) GetBalance(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBalance not implemented")
}
func (UnimplementedCanisterServer) UpdateFee(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateFee not implemented")
}
func (UnimplementedCanisterServer) GetFee(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetFee not implemented")
}
func (UnimplementedCanisterServer) Withdraw(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Withdraw not implemented")
}
func (UnimplementedCanisterServer) Whoami(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Whoami not implemented")
}

// UnimplementedICRC1Server can be embedded to have forward compatible implementations.
type UnimplementedICRC1Server struct{}

func (UnimplementedICRC1Server) BalanceOf(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method BalanceOf not implemented")
}
func (UnimplementedICRC1Server) Fee(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Fee not implemented")
}
func (UnimplementedICRC1Server) Transfer(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Transfer not implemented")
}

func RegisterCanisterServer(s grpc.ServiceRegistrar, srv CanisterServer) {
	s.RegisterService(&Canister_ServiceDesc, srv)
}

func RegisterICRC1Server(s grpc.ServiceRegistrar, srv ICRC1Server) {
	s.RegisterService(&ICRC1_ServiceDesc, srv)
}

// Canister_ServiceDesc is the grpc.ServiceDesc for the Canister service.
var Canister_ServiceDesc = grpc.ServiceDesc{
	ServiceName: CanisterServiceName,
	HandlerType: (*CanisterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBalance", Handler: unaryHandler(MethodGetBalance, newEmpty, func(srv any, ctx context.Context, in *emptypb.Empty) (any, error) {
			return srv.(CanisterServer).GetBalance(ctx, in)
		})},
		{MethodName: "UpdateFee", Handler: unaryHandler(MethodUpdateFee, newEmpty, func(srv any, ctx context.Context, in *emptypb.Empty) (any, error) {
			return srv.(CanisterServer).UpdateFee(ctx, in)
		})},
		{MethodName: "GetFee", Handler: unaryHandler(MethodGetFee, newEmpty, func(srv any, ctx context.Context, in *emptypb.Empty) (any, error) {
			return srv.(CanisterServer).GetFee(ctx, in)
		})},
		{MethodName: "Withdraw", Handler: unaryHandler(MethodWithdraw, newStruct, func(srv any, ctx context.Context, in *structpb.Struct) (any, error) {
			return srv.(CanisterServer).Withdraw(ctx, in)
		})},
		{MethodName: "Whoami", Handler: unaryHandler(MethodWhoami, newEmpty, func(srv any, ctx context.Context, in *emptypb.Empty) (any, error) {
			return srv.(CanisterServer).Whoami(ctx, in)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger.proto",
}

// ICRC1_ServiceDesc is the grpc.ServiceDesc for the ICRC1 service.
var ICRC1_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ICRC1ServiceName,
	HandlerType: (*ICRC1Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "BalanceOf", Handler: unaryHandler(MethodBalanceOf, newStruct, func(srv any, ctx context.Context, in *structpb.Struct) (any, error) {
			return srv.(ICRC1Server).BalanceOf(ctx, in)
		})},
		{MethodName: "Fee", Handler: unaryHandler(MethodFee, newEmpty, func(srv any, ctx context.Context, in *emptypb.Empty) (any, error) {
			return srv.(ICRC1Server).Fee(ctx, in)
		})},
		{MethodName: "Transfer", Handler: unaryHandler(MethodTransfer, newStruct, func(srv any, ctx context.Context, in *structpb.Struct) (any, error) {
			return srv.(ICRC1Server).Transfer(ctx, in)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger.proto",
}

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }

func newStruct() *structpb.Struct { return new(structpb.Struct) }

func unaryHandler[In any](
	fullMethod string,
	newIn func() In,
	call func(srv any, ctx context.Context, in In) (any, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newIn()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(In))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// conn is the transport shared by the variant clients.
type conn struct {
	cc      *grpc.ClientConn
	id      *identity.Identity
	timeout time.Duration
}

func (c *conn) invoke(ctx context.Context, method string, in, out proto.Message) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return mapRPC(method, c.cc.Invoke(ctx, method, in, out))
}

func (c *conn) Close() error {
	return c.cc.Close()
}

// Result builds an ok result struct.
func Result(ok *structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"ok": ok}}
}

// Reject builds an err result struct carrying reason.
func Reject(reason string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"err": structpb.NewStringValue(reason)}}
}

// decodeResult unwraps a {ok}|{err} result. An err is returned as *LedgerError.
func decodeResult(method string, res *structpb.Struct) (*structpb.Value, error) {
	fields := res.GetFields()
	okVal, hasOk := fields["ok"]
	errVal, hasErr := fields["err"]
	switch {
	case hasOk && !hasErr:
		return okVal, nil
	case hasErr && !hasOk:
		return nil, &LedgerError{Reason: errReason(errVal)}
	default:
		return nil, fmt.Errorf("%w: %s: result must hold exactly one of ok or err", ErrProtocol, method)
	}
}

// errReason accepts a plain string or a single-key variant such as
// {"InsufficientFunds": {...}}.
func errReason(v *structpb.Value) string {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_StructValue:
		for name := range k.StructValue.GetFields() {
			return name
		}
	}
	return v.String()
}

func decodeNat(method string, s string) (*uint256.Int, error) {
	n, err := amount.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, method, err)
	}
	return n, nil
}

func encodeAccount(a Account) *structpb.Value {
	fields := map[string]*structpb.Value{
		"owner": structpb.NewStringValue(a.Owner.String()),
	}
	if len(a.Subaccount) > 0 {
		fields["subaccount"] = structpb.NewStringValue(hex.EncodeToString(a.Subaccount))
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

// DecodeAccount reads an account written by encodeAccount.
func DecodeAccount(v *structpb.Value) (Account, error) {
	s := v.GetStructValue()
	if s == nil {
		return Account{}, fmt.Errorf("account must be a struct")
	}
	owner, err := principal.FromText(s.GetFields()["owner"].GetStringValue())
	if err != nil {
		return Account{}, fmt.Errorf("invalid owner: %w", err)
	}
	acc := Account{Owner: owner}
	if sub, ok := s.GetFields()["subaccount"]; ok {
		acc.Subaccount, err = hex.DecodeString(sub.GetStringValue())
		if err != nil || len(acc.Subaccount) != SubaccountSize {
			return Account{}, fmt.Errorf("invalid subaccount")
		}
	}
	return acc, nil
}
