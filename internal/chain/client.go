package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gnosis/safe-transaction-history/internal/chainerr"
	"github.com/gnosis/safe-transaction-history/internal/metrics"
)

// Client is the read-only chain access surface every indexer and the
// collectibles resolver depend on. Every method classifies its errors via
// chainerr so callers can decide retry vs. skip without inspecting
// message strings.
type Client interface {
	GetBlock(ctx context.Context, number uint64) (*Block, error)
	GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error)
	GetReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	GetLogs(ctx context.Context, q LogFilterQuery) ([]Log, error)
	TraceFilter(ctx context.Context, q TraceFilterQuery) ([]Trace, error)
	TraceTransaction(ctx context.Context, hash common.Hash) ([]Trace, error)

	// BatchCall executes a heterogeneous batch of read-only calls.
	// When raiseOnBatchError is true, any single failed element fails the
	// whole call; otherwise the corresponding result is nil and the error
	// is reported alongside it in errs.
	BatchCall(ctx context.Context, calls []Call, raiseOnBatchError bool) (results []json.RawMessage, errs []error, err error)

	BlockNumber(ctx context.Context) (uint64, error)
}

type client struct {
	transport Transport
	metrics   metrics.Metrics
	endpoint  string // label only, for metrics
}

func NewClient(transport Transport, m metrics.Metrics, endpointLabel string) Client {
	if m == nil {
		m = metrics.NoOp{}
	}
	return &client{transport: transport, metrics: m, endpoint: endpointLabel}
}

func (c *client) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	start := time.Now()
	result, err := c.transport.Call(ctx, method, params)
	success := err == nil
	c.metrics.RecordRPCCall(method, c.endpoint, time.Since(start), success)
	if err != nil {
		return nil, chainerr.NewRetryable(chainerr.ErrCodeRPCTimeout, fmt.Sprintf("%s failed", method), nil, err)
	}
	return result, nil
}

func (c *client) GetBlock(ctx context.Context, number uint64) (*Block, error) {
	raw, err := c.call(ctx, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, chainerr.NewNonRetryable(chainerr.ErrCodeRPCUnavailable, fmt.Sprintf("block %d not found", number), nil)
	}

	var wire struct {
		Number       hexutil.Uint64 `json:"number"`
		Hash         common.Hash    `json:"hash"`
		ParentHash   common.Hash    `json:"parentHash"`
		Timestamp    hexutil.Uint64 `json:"timestamp"`
		Transactions []common.Hash  `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, chainerr.NewFatal(chainerr.ErrCodeUnexpectedDecoding, "decode eth_getBlockByNumber response", err)
	}

	return &Block{
		Number:       uint64(wire.Number),
		Hash:         wire.Hash,
		ParentHash:   wire.ParentHash,
		Timestamp:    time.Unix(int64(wire.Timestamp), 0).UTC(),
		Transactions: wire.Transactions,
	}, nil
}

func (c *client) GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	raw, err := c.call(ctx, "eth_getTransactionByHash", hash)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, chainerr.NewNonRetryable(chainerr.ErrCodeRPCUnavailable, fmt.Sprintf("tx %s not found", hash), nil)
	}
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, chainerr.NewFatal(chainerr.ErrCodeUnexpectedDecoding, "decode eth_getTransactionByHash response", err)
	}
	return &tx, nil
}

func (c *client) GetReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	raw, err := c.call(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, chainerr.NewNonRetryable(chainerr.ErrCodeRPCUnavailable, fmt.Sprintf("receipt %s not found", hash), nil)
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, chainerr.NewFatal(chainerr.ErrCodeUnexpectedDecoding, "decode eth_getTransactionReceipt response", err)
	}
	return &r, nil
}

func (c *client) GetLogs(ctx context.Context, q LogFilterQuery) ([]Log, error) {
	params := map[string]interface{}{
		"fromBlock": hexutil.EncodeUint64(q.FromBlock),
		"toBlock":   hexutil.EncodeUint64(q.ToBlock),
	}
	if len(q.Addresses) > 0 {
		params["address"] = q.Addresses
	}
	if len(q.Topics) > 0 {
		params["topics"] = q.Topics
	}

	raw, err := c.call(ctx, "eth_getLogs", params)
	if err != nil {
		return nil, err
	}
	var logs []Log
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, chainerr.NewFatal(chainerr.ErrCodeUnexpectedDecoding, "decode eth_getLogs response", err)
	}
	return logs, nil
}

func (c *client) TraceFilter(ctx context.Context, q TraceFilterQuery) ([]Trace, error) {
	params := map[string]interface{}{
		"fromBlock": hexutil.EncodeUint64(q.FromBlock),
		"toBlock":   hexutil.EncodeUint64(q.ToBlock),
	}
	if len(q.FromAddress) > 0 {
		params["fromAddress"] = q.FromAddress
	}
	if len(q.ToAddress) > 0 {
		params["toAddress"] = q.ToAddress
	}

	raw, err := c.call(ctx, "trace_filter", params)
	if err != nil {
		return nil, err
	}
	return decodeTraces(raw)
}

func (c *client) TraceTransaction(ctx context.Context, hash common.Hash) ([]Trace, error) {
	raw, err := c.call(ctx, "trace_transaction", hash)
	if err != nil {
		return nil, err
	}
	return decodeTraces(raw)
}

func (c *client) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := c.call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	var n hexutil.Uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, chainerr.NewFatal(chainerr.ErrCodeUnexpectedDecoding, "decode eth_blockNumber response", err)
	}
	return uint64(n), nil
}

func (c *client) BatchCall(ctx context.Context, calls []Call, raiseOnBatchError bool) ([]json.RawMessage, []error, error) {
	if len(calls) == 0 {
		return nil, nil, nil
	}

	requests := make([]Request, len(calls))
	for i, call := range calls {
		requests[i] = Request{Method: call.Method, Params: call.Params}
	}

	start := time.Now()
	results, errs, err := c.transport.CallBatch(ctx, requests)
	c.metrics.RecordRPCCall("batch:"+strconv.Itoa(len(calls)), c.endpoint, time.Since(start), err == nil)
	if err != nil {
		return nil, nil, chainerr.NewRetryable(chainerr.ErrCodeAllEndpointsDown, "batch call failed", nil, err)
	}

	if raiseOnBatchError {
		for i, e := range errs {
			if e != nil {
				return nil, nil, chainerr.NewNonRetryable(chainerr.ErrCodeRPCUnavailable, fmt.Sprintf("batch element %d failed", i), e)
			}
		}
	}

	return results, errs, nil
}

func decodeTraces(raw json.RawMessage) ([]Trace, error) {
	var wire []struct {
		BlockNumber         uint64        `json:"blockNumber"`
		BlockHash           common.Hash   `json:"blockHash"`
		TransactionHash     common.Hash   `json:"transactionHash"`
		TransactionPosition int           `json:"transactionPosition"`
		Type                string        `json:"type"`
		TraceAddress        []int         `json:"traceAddress"`
		Error               string        `json:"error"`
		Action              struct {
			CallType string         `json:"callType"`
			From     common.Address `json:"from"`
			To       common.Address `json:"to"`
			Value    hexutil.Big    `json:"value"`
			Gas      hexutil.Uint64 `json:"gas"`
			Input    hexutil.Bytes  `json:"input"`
			Address  common.Address `json:"address"` // for suicide
		} `json:"action"`
		Result struct {
			GasUsed hexutil.Uint64 `json:"gasUsed"`
			Output  hexutil.Bytes  `json:"output"`
		} `json:"result"`
	}

	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, chainerr.NewFatal(chainerr.ErrCodeUnexpectedDecoding, "decode trace response", err)
	}

	traces := make([]Trace, 0, len(wire))
	for _, w := range wire {
		traceType := traceTypeOf(w.Type, w.Action.CallType)
		to := w.Action.To
		if traceType == TraceSuicide {
			to = w.Action.Address
		}
		value := (*big.Int)(&w.Action.Value)
		traces = append(traces, Trace{
			BlockNumber:         w.BlockNumber,
			BlockHash:           w.BlockHash,
			TransactionHash:     w.TransactionHash,
			TransactionPosition: w.TransactionPosition,
			Type:                traceType,
			From:                w.Action.From,
			To:                  to,
			Value:               value,
			Gas:                 uint64(w.Action.Gas),
			GasUsed:             uint64(w.Result.GasUsed),
			Input:               w.Action.Input,
			Output:              w.Result.Output,
			Error:               w.Error,
			TraceAddress:        w.TraceAddress,
		})
	}
	return traces, nil
}

func traceTypeOf(topLevelType, callType string) TraceType {
	switch topLevelType {
	case "create":
		return TraceCreate
	case "suicide":
		return TraceSuicide
	default:
		switch callType {
		case "delegatecall":
			return TraceDelegateCall
		case "staticcall":
			return TraceStaticCall
		default:
			return TraceCall
		}
	}
}

var _ Client = (*client)(nil)
