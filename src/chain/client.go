package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"golang.org/x/crypto/blake2b"
)

// Timepoint identifies where a pending multisig call was first recorded.
type Timepoint struct {
	Height uint32
	Index  uint32
}

func (t Timepoint) Zero() bool { return t.Height == 0 && t.Index == 0 }

// optionTimepoint is the SCALE Option<Timepoint> argument of the pallet.
type optionTimepoint struct {
	HasValue bool
	Value    Timepoint
}

func (o optionTimepoint) Encode(encoder scale.Encoder) error {
	if !o.HasValue {
		return encoder.PushByte(0)
	}
	if err := encoder.PushByte(1); err != nil {
		return err
	}
	return encoder.Encode(o.Value)
}

// weightV2 is the two-dimensional weight argument of modern runtimes.
type weightV2 struct {
	RefTime   types.UCompact
	ProofSize types.UCompact
}

// Generous static weight for the wrapped transfer; the runtime refunds the
// unused portion.
func maxWeight() weightV2 {
	return weightV2{
		RefTime:   types.NewUCompactFromUInt(5_000_000_000),
		ProofSize: types.NewUCompactFromUInt(128 * 1024),
	}
}

// CallRef is the result of submitting the initiating multisig extrinsic.
type CallRef struct {
	CallHash  string
	CallData  string
	TxHash    string
	Timepoint Timepoint
}

// ExecRef is the result of submitting the executing extrinsic.
type ExecRef struct {
	TxHash      string
	BlockNumber uint64
}

// Client talks to a Substrate chain over RPC.
type Client struct {
	api        *gsrpc.SubstrateAPI
	meta       *types.Metadata
	genesis    types.Hash
	network    string
	ss58Prefix uint16
	timeout    time.Duration
}

// NewClient connects and caches chain metadata.
func NewClient(url, network string, ss58Prefix uint16, timeout time.Duration) (*Client, error) {
	api, err := gsrpc.NewSubstrateAPI(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	genesis, err := api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return nil, fmt.Errorf("failed to get genesis hash: %w", err)
	}
	return &Client{
		api:        api,
		meta:       meta,
		genesis:    genesis,
		network:    network,
		ss58Prefix: ss58Prefix,
		timeout:    timeout,
	}, nil
}

func (c *Client) Network() string    { return c.network }
func (c *Client) SS58Prefix() uint16 { return c.ss58Prefix }

// PlanckFromUnit converts a display amount to base units (10 decimals on
// Polkadot, adjust per network via decimals).
func PlanckFromUnit(amount float64, decimals int) *big.Int {
	f := new(big.Float).SetFloat64(amount)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Mul(f, scale)
	out, _ := f.Int(nil)
	return out
}

// BuildTransferCall encodes the inner Balances.transfer_keep_alive call that
// the multisig will dispatch on execution.
func (c *Client) BuildTransferCall(beneficiary string, planck *big.Int) ([]byte, string, error) {
	pub, err := DecodeSS58(beneficiary)
	if err != nil {
		return nil, "", err
	}
	dest, err := types.NewMultiAddressFromAccountID(pub)
	if err != nil {
		return nil, "", err
	}
	call, err := types.NewCall(c.meta, "Balances.transfer_keep_alive",
		dest, types.NewUCompact(planck))
	if err != nil {
		return nil, "", err
	}
	data, err := codec.Encode(call)
	if err != nil {
		return nil, "", err
	}
	hash := blake2b.Sum256(data)
	return data, codec.HexEncodeToString(hash[:]), nil
}

func (c *Client) otherSignatories(signatories []string, self string) ([]types.AccountID, error) {
	raw, err := SortedOthers(signatories, self)
	if err != nil {
		return nil, err
	}
	out := make([]types.AccountID, 0, len(raw))
	for _, r := range raw {
		id, err := types.NewAccountID(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *id)
	}
	return out, nil
}

// BuildInitialCall submits the first approve_as_multi for callHash and
// returns the timepoint the chain recorded for it.
func (c *Client) BuildInitialCall(ctx context.Context, threshold uint16, signatories []string, innerCall []byte, kp signature.KeyringPair) (*CallRef, error) {
	hash := blake2b.Sum256(innerCall)
	others, err := c.otherSignatories(signatories, kp.Address)
	if err != nil {
		return nil, c.wrap("approve_as_multi", kp.Address, threshold, err, false)
	}
	call, err := types.NewCall(c.meta, "Multisig.approve_as_multi",
		threshold, others, optionTimepoint{}, types.NewH256(hash[:]), maxWeight())
	if err != nil {
		return nil, c.wrap("approve_as_multi", kp.Address, threshold, err, false)
	}
	txHash, blockHash, err := c.submit(ctx, call, kp)
	if err != nil {
		return nil, c.wrap("approve_as_multi", kp.Address, threshold, err, retryable(err))
	}

	tp, err := c.pendingAt(signatories, threshold, hash[:], &blockHash)
	if err != nil {
		return nil, c.wrap("approve_as_multi", kp.Address, threshold, err, true)
	}
	return &CallRef{
		CallHash:  codec.HexEncodeToString(hash[:]),
		CallData:  codec.HexEncodeToString(innerCall),
		TxHash:    txHash,
		Timepoint: tp.When,
	}, nil
}

// AddApproval submits a non-final approve_as_multi referencing the pending
// call's timepoint.
func (c *Client) AddApproval(ctx context.Context, callHash string, tp Timepoint, threshold uint16, signatories []string, kp signature.KeyringPair) (string, error) {
	hash, err := codec.HexDecodeString(callHash)
	if err != nil {
		return "", c.wrap("approve_as_multi", kp.Address, threshold, err, false)
	}
	others, err := c.otherSignatories(signatories, kp.Address)
	if err != nil {
		return "", c.wrap("approve_as_multi", kp.Address, threshold, err, false)
	}
	call, err := types.NewCall(c.meta, "Multisig.approve_as_multi",
		threshold, others, optionTimepoint{HasValue: true, Value: tp}, types.NewH256(hash), maxWeight())
	if err != nil {
		return "", c.wrap("approve_as_multi", kp.Address, threshold, err, false)
	}
	txHash, _, err := c.submit(ctx, call, kp)
	if err != nil {
		return "", c.wrap("approve_as_multi", kp.Address, threshold, err, retryable(err))
	}
	return txHash, nil
}

// ExecuteCall submits the final as_multi carrying the full call data; the
// runtime dispatches the wrapped transfer once the threshold is witnessed.
func (c *Client) ExecuteCall(ctx context.Context, callData string, tp Timepoint, threshold uint16, signatories []string, kp signature.KeyringPair) (*ExecRef, error) {
	data, err := codec.HexDecodeString(callData)
	if err != nil {
		return nil, c.wrap("as_multi", kp.Address, threshold, err, false)
	}
	var inner types.Call
	if err := codec.Decode(data, &inner); err != nil {
		return nil, c.wrap("as_multi", kp.Address, threshold, fmt.Errorf("stored call data unparseable: %w", err), false)
	}
	others, err := c.otherSignatories(signatories, kp.Address)
	if err != nil {
		return nil, c.wrap("as_multi", kp.Address, threshold, err, false)
	}
	call, err := types.NewCall(c.meta, "Multisig.as_multi",
		threshold, others, optionTimepoint{HasValue: true, Value: tp}, inner, maxWeight())
	if err != nil {
		return nil, c.wrap("as_multi", kp.Address, threshold, err, false)
	}
	txHash, blockHash, err := c.submit(ctx, call, kp)
	if err != nil {
		return nil, c.wrap("as_multi", kp.Address, threshold, err, retryable(err))
	}

	block, err := c.api.RPC.Chain.GetBlock(blockHash)
	if err != nil {
		return &ExecRef{TxHash: txHash}, nil
	}
	return &ExecRef{
		TxHash:      txHash,
		BlockNumber: uint64(block.Block.Header.Number),
	}, nil
}

// PendingFor reads the pallet's pending entry for the signatory set, or nil
// when no call with that hash is pending (not yet initiated, or executed).
func (c *Client) PendingFor(signatories []string, threshold uint16, callHash string) (*PendingCall, error) {
	hash, err := codec.HexDecodeString(callHash)
	if err != nil {
		return nil, err
	}
	return c.pendingAt(signatories, threshold, hash, nil)
}

func (c *Client) pendingAt(signatories []string, threshold uint16, callHash []byte, at *types.Hash) (*PendingCall, error) {
	msig, err := DeriveMultisigAddress(signatories, threshold, c.ss58Prefix)
	if err != nil {
		return nil, err
	}
	account, err := DecodeSS58(msig)
	if err != nil {
		return nil, err
	}
	key, err := codec.HexDecodeString(multisigStorageKey(account, callHash))
	if err != nil {
		return nil, err
	}

	var raw types.StorageDataRaw
	var ok bool
	if at != nil {
		ok, err = c.api.RPC.State.GetStorage(types.NewStorageKey(key), &raw, *at)
	} else {
		ok, err = c.api.RPC.State.GetStorageLatest(types.NewStorageKey(key), &raw)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return decodePendingCall(raw, c.ss58Prefix)
}

// submit signs, submits and waits for inclusion, bounded by the client
// timeout. Returns the extrinsic hash and the including block hash.
func (c *Client) submit(ctx context.Context, call types.Call, kp signature.KeyringPair) (string, types.Hash, error) {
	var empty types.Hash

	rv, err := c.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return "", empty, err
	}
	key, err := types.CreateStorageKey(c.meta, "System", "Account", kp.PublicKey)
	if err != nil {
		return "", empty, err
	}
	var info types.AccountInfo
	if _, err := c.api.RPC.State.GetStorageLatest(key, &info); err != nil {
		return "", empty, err
	}

	ext := types.NewExtrinsic(call)
	opts := types.SignatureOptions{
		BlockHash:          c.genesis,
		Era:                types.ExtrinsicEra{IsMortalEra: false},
		GenesisHash:        c.genesis,
		Nonce:              types.NewUCompactFromUInt(uint64(info.Nonce)),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	}
	if err := ext.Sign(kp, opts); err != nil {
		return "", empty, err
	}

	enc, err := codec.Encode(ext)
	if err != nil {
		return "", empty, err
	}
	sum := blake2b.Sum256(enc)
	txHash := codec.HexEncodeToString(sum[:])

	sub, err := c.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return "", empty, err
	}
	defer sub.Unsubscribe()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for {
		select {
		case st := <-sub.Chan():
			if st.IsInBlock {
				return txHash, st.AsInBlock, nil
			}
			if st.IsDropped || st.IsInvalid || st.IsUsurped {
				return "", empty, fmt.Errorf("extrinsic not included (dropped/invalid)")
			}
		case err := <-sub.Err():
			return "", empty, err
		case <-timer.C:
			return "", empty, fmt.Errorf("timeout waiting for inclusion")
		case <-ctx.Done():
			return "", empty, ctx.Err()
		}
	}
}

func (c *Client) wrap(op, addr string, threshold uint16, err error, retry bool) error {
	return &Error{
		Op:        op,
		Network:   c.network,
		Address:   addr,
		Threshold: threshold,
		Retryable: retry,
		Err:       err,
	}
}
