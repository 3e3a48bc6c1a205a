package chain_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/gnosis/safe-transaction-history/internal/chain"
)

// rpcEchoServer answers eth_blockNumber with a fixed result and echoes the
// request ID, the way a real node's WebSocket JSON-RPC endpoint would.
func rpcEchoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			var req map[string]interface{}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req["id"],
				"result":  "0x2a",
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketTransportCall(t *testing.T) {
	srv := rpcEchoServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	transport, err := chain.NewWebSocketTransport(url)
	require.NoError(t, err)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := transport.Call(ctx, "eth_blockNumber", []interface{}{})
	require.NoError(t, err)

	var hex string
	require.NoError(t, json.Unmarshal(result, &hex))
	require.Equal(t, "0x2a", hex)
}

func TestWebSocketTransportCallBatch(t *testing.T) {
	srv := rpcEchoServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	transport, err := chain.NewWebSocketTransport(url)
	require.NoError(t, err)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results, errs, err := transport.CallBatch(ctx, []chain.Request{
		{Method: "eth_blockNumber"},
		{Method: "eth_blockNumber"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i := range results {
		require.NoError(t, errs[i])
		var hex string
		require.NoError(t, json.Unmarshal(results[i], &hex))
		require.Equal(t, "0x2a", hex)
	}
}
