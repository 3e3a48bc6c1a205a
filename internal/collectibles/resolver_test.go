package collectibles

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/gnosis/safe-transaction-history/internal/chain"
	"github.com/gnosis/safe-transaction-history/internal/ledger"
	"github.com/gnosis/safe-transaction-history/internal/ledger/memstore"
)

// fakeChain answers BatchCall by matching each call's (to, data) pair
// against a canned response table, keyed the same way the resolver builds
// its calls. Every other Client method panics: the resolver never calls
// them.
type fakeChain struct {
	chain.Client
	responses map[string][]byte // key: to.Hex()+":"+hexutil.Encode(data)
}

func (f *fakeChain) BatchCall(_ context.Context, calls []chain.Call, _ bool) ([]json.RawMessage, []error, error) {
	results := make([]json.RawMessage, len(calls))
	errs := make([]error, len(calls))
	for i, c := range calls {
		m := c.Params[0].(map[string]string)
		key := m["to"] + ":" + m["data"]
		raw, ok := f.responses[key]
		if !ok {
			errs[i] = errNoResponse
			continue
		}
		b, err := json.Marshal(hexutil.Encode(raw))
		if err != nil {
			errs[i] = err
			continue
		}
		results[i] = b
	}
	return results, errs, nil
}

var errNoResponse = &noResponseError{}

type noResponseError struct{}

func (*noResponseError) Error() string { return "no canned response" }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func packERC721(t *testing.T, method string, args ...interface{}) []byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	require.NoError(t, err)
	data, err := parsed.Pack(method, args...)
	require.NoError(t, err)
	return data
}

func packERC721Result(t *testing.T, method string, value interface{}) []byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	require.NoError(t, err)
	out, err := parsed.Methods[method].Outputs.Pack(value)
	require.NoError(t, err)
	return out
}

func newTestResolver(t *testing.T, store ledger.Store, responses map[string][]byte, rt roundTripFunc) *Resolver {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	require.NoError(t, err)
	return &Resolver{
		Chain:      &fakeChain{responses: responses},
		Store:      store,
		HTTPClient: &http.Client{Transport: rt},
		PageSize:   defaultPageSize,
		parsed:     parsed,
	}
}

func TestResolverFiltersToStillOwnedTokens(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	owner := common.HexToAddress("0xAAAA000000000000000000000000000000000A")
	other := common.HexToAddress("0xBBBB000000000000000000000000000000000B")
	token := common.HexToAddress("0xCCCC000000000000000000000000000000000C")

	require.NoError(t, store.UpsertERC721Transfer(ctx, &ledger.ERC721Transfer{
		Token: token, From: common.Address{}, To: owner, TokenID: big.NewInt(1), BlockNumber: 1,
	}))
	require.NoError(t, store.UpsertERC721Transfer(ctx, &ledger.ERC721Transfer{
		Token: token, From: common.Address{}, To: owner, TokenID: big.NewInt(2), BlockNumber: 2, LogIndex: 1,
	}))

	ownerOf1 := packERC721(t, "ownerOf", big.NewInt(1))
	ownerOf2 := packERC721(t, "ownerOf", big.NewInt(2))
	tokenURI1 := packERC721(t, "tokenURI", big.NewInt(1))
	nameCall := packERC721(t, "name")
	symbolCall := packERC721(t, "symbol")

	responses := map[string][]byte{
		token.Hex() + ":" + hexutil.Encode(ownerOf1):  packERC721Result(t, "ownerOf", owner),
		token.Hex() + ":" + hexutil.Encode(ownerOf2):  packERC721Result(t, "ownerOf", other),
		token.Hex() + ":" + hexutil.Encode(tokenURI1): packERC721Result(t, "tokenURI", "https://example.test/metadata/1"),
		token.Hex() + ":" + hexutil.Encode(nameCall):   packERC721Result(t, "name", "Test Collectible"),
		token.Hex() + ":" + hexutil.Encode(symbolCall): packERC721Result(t, "symbol", "TSTC"),
	}

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "https://example.test/metadata/1", req.URL.String())
		body := `{"name":"Shiny Thing","description":"a test nft","image":"https://example.test/1.png"}`
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	})

	r := newTestResolver(t, store, responses, rt)

	got, err := r.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, got, 1, "token 2 is no longer owned and must be pruned")

	item := got[0]
	require.Equal(t, big.NewInt(1), item.TokenID)
	require.Equal(t, "Test Collectible", item.TokenName)
	require.Equal(t, "TSTC", item.TokenSymbol)
	require.Equal(t, "Shiny Thing", item.Name)
	require.Equal(t, "a test nft", item.Description)
	require.Equal(t, "https://example.test/1.png", item.ImageURI)
}

func TestResolverAppliesOverrideWithoutHTTPFetch(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	owner := common.HexToAddress("0xAAAA000000000000000000000000000000000A")

	require.NoError(t, store.UpsertERC721Transfer(ctx, &ledger.ERC721Transfer{
		Token: cryptoKitties, From: common.Address{}, To: owner, TokenID: big.NewInt(42), BlockNumber: 1,
	}))

	ownerOfCall := packERC721(t, "ownerOf", big.NewInt(42))
	nameCall := packERC721(t, "name")
	symbolCall := packERC721(t, "symbol")

	responses := map[string][]byte{
		cryptoKitties.Hex() + ":" + hexutil.Encode(ownerOfCall): packERC721Result(t, "ownerOf", owner),
		cryptoKitties.Hex() + ":" + hexutil.Encode(nameCall):    packERC721Result(t, "name", "CryptoKitties"),
		cryptoKitties.Hex() + ":" + hexutil.Encode(symbolCall):  packERC721Result(t, "symbol", "CK"),
	}

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected HTTP fetch for overridden contract: %s", req.URL.String())
		return nil, nil
	})

	r := newTestResolver(t, store, responses, rt)

	got, err := r.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "CryptoKitty #42", got[0].Name)
	require.Empty(t, got[0].URI, "override path never sets a tokenURI")
}
