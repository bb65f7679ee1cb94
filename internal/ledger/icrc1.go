package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vultisig/walletd/internal/principal"
)

// icrc1Client talks to a standard token ledger.
type icrc1Client struct {
	conn *conn
}

func validSubaccount(sub []byte) error {
	if len(sub) != 0 && len(sub) != SubaccountSize {
		return fmt.Errorf("subaccount must be %d bytes, got %d", SubaccountSize, len(sub))
	}
	return nil
}

func (c *icrc1Client) QueryBalance(ctx context.Context, account Account) (*uint256.Int, error) {
	if err := validSubaccount(account.Subaccount); err != nil {
		return nil, err
	}

	out := new(wrapperspb.StringValue)
	if err := c.conn.invoke(ctx, MethodBalanceOf, encodeAccount(account).GetStructValue(), out); err != nil {
		return nil, err
	}
	return decodeNat(MethodBalanceOf, out.GetValue())
}

func (c *icrc1Client) QueryFee(ctx context.Context) (*uint256.Int, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.invoke(ctx, MethodFee, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return decodeNat(MethodFee, out.GetValue())
}

// RefreshFee is a no-op: the ledger fee is always current.
func (c *icrc1Client) RefreshFee(context.Context) error {
	return nil
}

func (c *icrc1Client) Transfer(ctx context.Context, req TransferRequest) (Receipt, error) {
	if err := validSubaccount(req.To.Subaccount); err != nil {
		return Receipt{}, err
	}
	if req.Amount == nil {
		return Receipt{}, fmt.Errorf("amount cannot be nil")
	}

	fields := map[string]*structpb.Value{
		"to":     encodeAccount(req.To),
		"amount": structpb.NewStringValue(req.Amount.Dec()),
	}
	if req.Fee != nil {
		fields["fee"] = structpb.NewStringValue(req.Fee.Dec())
	}
	if len(req.Memo) > 0 {
		fields["memo"] = structpb.NewStringValue(hex.EncodeToString(req.Memo))
	}
	if !req.CreatedAt.IsZero() {
		fields["created_at_time"] = structpb.NewStringValue(strconv.FormatInt(req.CreatedAt.UnixNano(), 10))
	}

	out := new(structpb.Struct)
	if err := c.conn.invoke(ctx, MethodTransfer, &structpb.Struct{Fields: fields}, out); err != nil {
		return Receipt{}, err
	}
	ok, err := decodeResult(MethodTransfer, out)
	if err != nil {
		return Receipt{}, err
	}
	block, err := decodeNat(MethodTransfer, ok.GetStringValue())
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{BlockIndex: block}, nil
}

// Whoami is answered locally; the ledger has no such method.
func (c *icrc1Client) Whoami(context.Context) (principal.Principal, error) {
	return c.conn.id.Principal(), nil
}

func (c *icrc1Client) Close() error {
	return c.conn.Close()
}
