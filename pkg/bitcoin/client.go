package bitcoin

import (
	"context"
	"fmt"

	"github.com/keep-network/sbtc-signer/pkg/chain"
	"github.com/keep-network/sbtc-signer/pkg/signererrors"
	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

// Tx is a parsed bitcoin transaction and its prevout metadata, as
// returned by GetTxInfo.
type Tx struct {
	Txid    chain.Hash32
	Inputs  []model.Outpoint
	Outputs []Output
}

// Output is one output of a Tx.
type Output struct {
	ScriptPubkey []byte
	AmountSats   uint64
}

// Client is the external Bitcoin backend interface consumed by the
// signer (spec §6). Implementations (Bitcoin Core RPC, etc.) live
// outside this repo; this interface is what the rest of the signer codes
// against.
type Client interface {
	GetBlock(ctx context.Context, hash chain.Hash32) (*chain.BitcoinBlock, error)
	GetTx(ctx context.Context, txid chain.Hash32) (*Tx, error)
	GetTxInfo(ctx context.Context, txid chain.Hash32, blockHash chain.Hash32) (*Tx, error)
	EstimateFeeRate(ctx context.Context) (satPerVByte float64, err error)
	BroadcastTransaction(ctx context.Context, rawTx []byte) error
	FindMempoolTransactionsSpendingOutput(ctx context.Context, out model.Outpoint) ([]chain.Hash32, error)
	FindMempoolDescendants(ctx context.Context, txid chain.Hash32) ([]chain.Hash32, error)
	GetTransactionOutput(ctx context.Context, out model.Outpoint, includeMempool bool) (*Output, error)
	CalculateTransactionFee(ctx context.Context, rawTx []byte) (sats uint64, err error)
}

// FallbackClient routes each call to the first healthy endpoint in an
// ordered list, falling through to the next on a Transient error. It is
// the Go analog of original_source/signer/src/context.rs's
// ApiFallbackClient<B>.
type FallbackClient struct {
	endpoints []Client
}

// NewFallbackClient builds a FallbackClient over an ordered list of
// endpoints. Configuration errors (an empty list) fail fast per spec §7.
func NewFallbackClient(endpoints []Client) (*FallbackClient, error) {
	if len(endpoints) == 0 {
		return nil, signererrors.New(signererrors.Configuration, "at least one bitcoin endpoint is required")
	}
	return &FallbackClient{endpoints: endpoints}, nil
}

// call runs fn against each endpoint in order, returning the first
// success. Only Transient errors fall through to the next endpoint; any
// other error is returned immediately.
func call[T any](f *FallbackClient, fn func(Client) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for _, ep := range f.endpoints {
		v, err := fn(ep)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !signererrors.Is(err, signererrors.Transient) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("all bitcoin endpoints failed: %w", lastErr)
}

func (f *FallbackClient) GetBlock(ctx context.Context, hash chain.Hash32) (*chain.BitcoinBlock, error) {
	return call(f, func(c Client) (*chain.BitcoinBlock, error) { return c.GetBlock(ctx, hash) })
}

func (f *FallbackClient) GetTx(ctx context.Context, txid chain.Hash32) (*Tx, error) {
	return call(f, func(c Client) (*Tx, error) { return c.GetTx(ctx, txid) })
}

func (f *FallbackClient) GetTxInfo(ctx context.Context, txid, blockHash chain.Hash32) (*Tx, error) {
	return call(f, func(c Client) (*Tx, error) { return c.GetTxInfo(ctx, txid, blockHash) })
}

func (f *FallbackClient) EstimateFeeRate(ctx context.Context) (float64, error) {
	return call(f, func(c Client) (float64, error) { return c.EstimateFeeRate(ctx) })
}

func (f *FallbackClient) BroadcastTransaction(ctx context.Context, rawTx []byte) error {
	_, err := call(f, func(c Client) (struct{}, error) { return struct{}{}, c.BroadcastTransaction(ctx, rawTx) })
	return err
}

func (f *FallbackClient) FindMempoolTransactionsSpendingOutput(ctx context.Context, out model.Outpoint) ([]chain.Hash32, error) {
	return call(f, func(c Client) ([]chain.Hash32, error) { return c.FindMempoolTransactionsSpendingOutput(ctx, out) })
}

func (f *FallbackClient) FindMempoolDescendants(ctx context.Context, txid chain.Hash32) ([]chain.Hash32, error) {
	return call(f, func(c Client) ([]chain.Hash32, error) { return c.FindMempoolDescendants(ctx, txid) })
}

func (f *FallbackClient) GetTransactionOutput(ctx context.Context, out model.Outpoint, includeMempool bool) (*Output, error) {
	return call(f, func(c Client) (*Output, error) { return c.GetTransactionOutput(ctx, out, includeMempool) })
}

func (f *FallbackClient) CalculateTransactionFee(ctx context.Context, rawTx []byte) (uint64, error) {
	return call(f, func(c Client) (uint64, error) { return c.CalculateTransactionFee(ctx, rawTx) })
}
