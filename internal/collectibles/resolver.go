package collectibles

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/gnosis/safe-transaction-history/internal/chain"
	"github.com/gnosis/safe-transaction-history/internal/ledger"
)

// erc721ABI covers exactly the four read methods this resolver needs.
// Kept minimal and inline rather than embedded from a file, unlike
// internal/decoder's versioned Safe ABIs, since there is only ever one
// ERC-721 interface shape to pack against.
const erc721ABI = `[
  {"type":"function","name":"ownerOf","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"tokenURI","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"name","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"symbol","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

const defaultPageSize = 500

// Resolver turns an owner's raw ERC-721 Transfer history into the set of
// tokens it currently holds, following spec §4.6's pipeline: distinct
// contracts from history, batched ownerOf verification, tokenURI fetch,
// optional metadata dereference.
type Resolver struct {
	Chain      chain.Client
	Store      ledger.Store
	HTTPClient *http.Client
	Logger     *zap.Logger

	// PageSize bounds how many ERC721Transfer rows are pulled per page
	// while scanning an owner's history.
	PageSize int

	parsed abi.ABI
}

// New parses the embedded ERC-721 ABI once. Hold the returned Resolver
// for the process lifetime rather than constructing one per request.
func New(chainClient chain.Client, store ledger.Store, logger *zap.Logger) (*Resolver, error) {
	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("parsing erc721 abi: %w", err)
	}
	return &Resolver{
		Chain:      chainClient,
		Store:      store,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Logger:     logger,
		PageSize:   defaultPageSize,
		parsed:     parsed,
	}, nil
}

type candidate struct {
	token   common.Address
	tokenID *big.Int
}

// List resolves owner's current ERC-721 holdings.
func (r *Resolver) List(ctx context.Context, owner common.Address) ([]Collectible, error) {
	candidates, err := r.candidatesFor(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	owned, err := r.filterOwned(ctx, owner, candidates)
	if err != nil {
		return nil, err
	}
	if len(owned) == 0 {
		return nil, nil
	}

	return r.resolveMetadata(ctx, owned)
}

// candidatesFor walks owner's ERC721Transfer history and returns every
// distinct (token, tokenID) the owner has ever received. Tokens since
// transferred away are pruned in filterOwned, not here, since the
// incoming-transfer history alone can't tell the two cases apart.
func (r *Resolver) candidatesFor(ctx context.Context, owner common.Address) ([]candidate, error) {
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	seen := make(map[common.Address]map[string]struct{})
	var out []candidate

	for offset := 0; ; offset += pageSize {
		page, err := r.Store.GetERC721Transfers(ctx, owner, pageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, t := range page {
			if t.To != owner {
				continue
			}
			ids, ok := seen[t.Token]
			if !ok {
				ids = make(map[string]struct{})
				seen[t.Token] = ids
			}
			key := t.TokenID.String()
			if _, dup := ids[key]; dup {
				continue
			}
			ids[key] = struct{}{}
			out = append(out, candidate{token: t.Token, tokenID: t.TokenID})
		}
		if len(page) < pageSize {
			break
		}
	}
	return out, nil
}

// filterOwned batches an ownerOf(tokenId) call per candidate and keeps
// only the ones still held by owner. A single reverting/erroring call
// (e.g. a since-burned token) drops that candidate rather than failing
// the whole resolve pass.
func (r *Resolver) filterOwned(ctx context.Context, owner common.Address, candidates []candidate) ([]candidate, error) {
	calls := make([]chain.Call, len(candidates))
	for i, c := range candidates {
		data, err := r.parsed.Pack("ownerOf", c.tokenID)
		if err != nil {
			return nil, err
		}
		calls[i] = ethCall(c.token, data)
	}

	results, errs, err := r.Chain.BatchCall(ctx, calls, false)
	if err != nil {
		return nil, err
	}

	owned := make([]candidate, 0, len(candidates))
	for i, c := range candidates {
		if errs[i] != nil || results[i] == nil {
			continue
		}
		out, err := unpackSingle(r.parsed, "ownerOf", results[i])
		if err != nil {
			r.logger().Warn("ownerOf decode failed, dropping candidate",
				zap.String("token", c.token.Hex()), zap.Error(err))
			continue
		}
		addr, ok := out.(common.Address)
		if !ok || addr != owner {
			continue
		}
		owned = append(owned, c)
	}
	return owned, nil
}

// resolveMetadata fetches tokenURI for every owned candidate (skipping
// contracts with a static override), dereferences http(s) URIs, and
// fills in cached or freshly-fetched name()/symbol() for each contract.
func (r *Resolver) resolveMetadata(ctx context.Context, owned []candidate) ([]Collectible, error) {
	names, symbols, err := r.contractNames(ctx, owned)
	if err != nil {
		return nil, err
	}

	uriIdx := make([]int, 0, len(owned))
	calls := make([]chain.Call, 0, len(owned))
	for i, c := range owned {
		if _, ok := overrideFor(c.token); ok {
			continue
		}
		data, err := r.parsed.Pack("tokenURI", c.tokenID)
		if err != nil {
			return nil, err
		}
		uriIdx = append(uriIdx, i)
		calls = append(calls, ethCall(c.token, data))
	}

	uris := make(map[int]string, len(uriIdx))
	if len(calls) > 0 {
		results, errs, err := r.Chain.BatchCall(ctx, calls, false)
		if err != nil {
			return nil, err
		}
		for j, idx := range uriIdx {
			if errs[j] != nil || results[j] == nil {
				continue
			}
			out, err := unpackSingle(r.parsed, "tokenURI", results[j])
			if err != nil {
				continue
			}
			if s, ok := out.(string); ok {
				uris[idx] = s
			}
		}
	}

	out := make([]Collectible, 0, len(owned))
	for i, c := range owned {
		item := Collectible{
			Address:     c.token,
			TokenID:     c.tokenID,
			TokenName:   names[c.token],
			TokenSymbol: symbols[c.token],
		}

		if ov, ok := overrideFor(c.token); ok {
			item.Name, item.Description, item.ImageURI = ov(c.tokenID.String())
			out = append(out, item)
			continue
		}

		uri, ok := uris[i]
		if !ok || uri == "" {
			out = append(out, item)
			continue
		}
		item.URI = uri

		meta, err := fetchMetadata(ctx, r.HTTPClient, uri)
		if err != nil {
			r.logger().Warn("tokenURI metadata fetch failed",
				zap.String("token", c.token.Hex()), zap.String("uri", uri), zap.Error(err))
		} else if meta != nil {
			item.Metadata = meta
			item.Name = stringField(meta, "name")
			item.Description = stringField(meta, "description")
			item.ImageURI = stringField(meta, "image")
		}
		out = append(out, item)
	}
	return out, nil
}

// contractNames resolves name()/symbol() for every distinct contract in
// owned, preferring the TokenInfo cache and batching an on-chain lookup
// for whatever is missing.
func (r *Resolver) contractNames(ctx context.Context, owned []candidate) (map[common.Address]string, map[common.Address]string, error) {
	names := make(map[common.Address]string)
	symbols := make(map[common.Address]string)

	var missing []common.Address
	seen := make(map[common.Address]struct{})
	for _, c := range owned {
		if _, ok := seen[c.token]; ok {
			continue
		}
		seen[c.token] = struct{}{}

		info, err := r.Store.GetTokenInfo(ctx, c.token)
		if err == nil {
			names[c.token] = info.Name
			symbols[c.token] = info.Symbol
			continue
		}
		if err != ledger.ErrNotFound {
			return nil, nil, err
		}
		missing = append(missing, c.token)
	}

	if len(missing) == 0 {
		return names, symbols, nil
	}

	calls := make([]chain.Call, 0, len(missing)*2)
	for _, token := range missing {
		nameData, err := r.parsed.Pack("name")
		if err != nil {
			return nil, nil, err
		}
		symbolData, err := r.parsed.Pack("symbol")
		if err != nil {
			return nil, nil, err
		}
		calls = append(calls, ethCall(token, nameData), ethCall(token, symbolData))
	}

	results, errs, err := r.Chain.BatchCall(ctx, calls, false)
	if err != nil {
		return nil, nil, err
	}

	for i, token := range missing {
		nameResult, symbolResult := results[2*i], results[2*i+1]
		nameErr, symbolErr := errs[2*i], errs[2*i+1]

		var name, symbol string
		if nameErr == nil && nameResult != nil {
			if v, err := unpackSingle(r.parsed, "name", nameResult); err == nil {
				name, _ = v.(string)
			}
		}
		if symbolErr == nil && symbolResult != nil {
			if v, err := unpackSingle(r.parsed, "symbol", symbolResult); err == nil {
				symbol, _ = v.(string)
			}
		}
		names[token] = name
		symbols[token] = symbol

		if name != "" || symbol != "" {
			if err := r.Store.UpsertTokenInfo(ctx, &ledger.TokenInfo{
				Address: token, Name: name, Symbol: symbol, Type: ledger.TokenTypeERC721,
			}); err != nil {
				return nil, nil, err
			}
		}
	}

	return names, symbols, nil
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

func ethCall(to common.Address, data []byte) chain.Call {
	return chain.Call{
		Method: "eth_call",
		Params: []interface{}{
			map[string]string{
				"to":   to.Hex(),
				"data": hexutil.Encode(data),
			},
			"latest",
		},
	}
}

// unpackSingle decodes a single-return-value eth_call result (a JSON hex
// string) against method's output type.
func unpackSingle(parsed abi.ABI, method string, raw json.RawMessage) (interface{}, error) {
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, fmt.Errorf("decoding %s result envelope: %w", method, err)
	}
	data, err := hexutil.Decode(hexStr)
	if err != nil {
		return nil, fmt.Errorf("decoding %s result hex: %w", method, err)
	}
	out, err := parsed.Methods[method].Outputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s result: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values, expected 1", method, len(out))
	}
	return out[0], nil
}
