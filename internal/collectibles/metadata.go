package collectibles

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxMetadataBytes bounds how much of a tokenURI response is read before
// giving up, so one misbehaving contract's metadata host can't stall or
// exhaust memory for the whole resolve pass.
const maxMetadataBytes = 1 << 20 // 1 MiB

// fetchMetadata dereferences an http(s) tokenURI and parses it as the de
// facto ERC-721 metadata JSON schema (name/description/image). ipfs://
// and data: URIs and any tokenURI that isn't http(s) are left alone — this
// resolver only ever makes a network call for a plain http(s) URL.
func fetchMetadata(ctx context.Context, client *http.Client, uri string) (map[string]interface{}, error) {
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, err
	}

	var meta map[string]interface{}
	if err := json.Unmarshal(body, &meta); err != nil {
		// Non-JSON or malformed metadata is a contract/host problem, not
		// a resolver failure: the token still exists and is still owned.
		return nil, nil
	}
	return meta, nil
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}
