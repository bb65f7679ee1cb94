package ledger

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vultisig/walletd/internal/principal"
)

// canisterClient talks to the token dApp backend. The backend answers for
// the caller only and charges its current fee on withdraw.
type canisterClient struct {
	conn *conn
}

func (c *canisterClient) QueryBalance(ctx context.Context, account Account) (*uint256.Int, error) {
	if len(account.Subaccount) > 0 {
		return nil, fmt.Errorf("canister ledger has no subaccounts")
	}
	if !account.Owner.Equal(c.conn.id.Principal()) {
		return nil, fmt.Errorf("canister ledger only reports the caller's balance")
	}

	out := new(wrapperspb.StringValue)
	if err := c.conn.invoke(ctx, MethodGetBalance, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return decodeNat(MethodGetBalance, out.GetValue())
}

func (c *canisterClient) QueryFee(ctx context.Context) (*uint256.Int, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.invoke(ctx, MethodGetFee, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return decodeNat(MethodGetFee, out.GetValue())
}

func (c *canisterClient) RefreshFee(ctx context.Context) error {
	out := new(structpb.Struct)
	if err := c.conn.invoke(ctx, MethodUpdateFee, &emptypb.Empty{}, out); err != nil {
		return err
	}
	_, err := decodeResult(MethodUpdateFee, out)
	return err
}

func (c *canisterClient) Transfer(ctx context.Context, req TransferRequest) (Receipt, error) {
	if len(req.To.Subaccount) > 0 {
		return Receipt{}, fmt.Errorf("canister ledger has no subaccounts")
	}
	if req.Amount == nil {
		return Receipt{}, fmt.Errorf("amount cannot be nil")
	}

	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"to":     structpb.NewStringValue(req.To.Owner.String()),
		"amount": structpb.NewStringValue(req.Amount.Dec()),
	}}
	out := new(structpb.Struct)
	if err := c.conn.invoke(ctx, MethodWithdraw, in, out); err != nil {
		return Receipt{}, err
	}
	if _, err := decodeResult(MethodWithdraw, out); err != nil {
		return Receipt{}, err
	}
	return Receipt{}, nil
}

func (c *canisterClient) Whoami(ctx context.Context) (principal.Principal, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.invoke(ctx, MethodWhoami, &emptypb.Empty{}, out); err != nil {
		return principal.Principal{}, err
	}
	p, err := principal.FromText(out.GetValue())
	if err != nil {
		return principal.Principal{}, fmt.Errorf("%w: %s: %v", ErrProtocol, MethodWhoami, err)
	}
	return p, nil
}

func (c *canisterClient) Close() error {
	return c.conn.Close()
}
