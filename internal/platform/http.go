package platform

import (
	"context"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// send executes req and applies the shared status mapping: 401/403 become
// KindInvalidToken, any other non-2xx becomes failKind, transport failures
// become KindNetwork (or KindCancelled when the caller aborted). On success
// the raw body is returned for field extraction.
func send(ctx context.Context, client *http.Client, req *http.Request, op string, failKind Kind) (string, error) {
	resp, err := client.Do(req)
	if err != nil {
		return "", transportError(ctx, err, op)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(ctx, err, op)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", Errf(KindInvalidToken, "%s rejected with HTTP %d", op, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", Errf(failKind, "%s failed with HTTP %d: %s", op, resp.StatusCode, truncate(string(body), 200))
	}
	return string(body), nil
}

// requireField extracts a non-empty string field from a 2xx body. A missing
// field on an otherwise successful response is a malformed response and is
// never retried.
func requireField(body, path, op string) (string, error) {
	v := gjson.Get(body, path)
	if !v.Exists() || v.String() == "" {
		return "", Errf(KindMalformedResponse, "%s response missing %s", op, path)
	}
	return v.String(), nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
