package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/herihandoko/apimanager-new-sub000/internal/crypto"
	"github.com/herihandoko/apimanager-new-sub000/internal/database"
	"github.com/herihandoko/apimanager-new-sub000/internal/fault"
)

const defaultForwardTimeout = 30 * time.Second

// UpstreamResult captures the outcome of a forwarded call. Upstream error
// statuses count as completed calls: the original status and body are kept
// for the caller.
type UpstreamResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Forward builds and issues the outbound call for a matched endpoint. The
// literal inbound path segment is appended to the provider's base address
// (placeholders resolve implicitly because the path is forwarded verbatim);
// query and body travel unchanged; the provider's single auth header is
// injected when declared; the provider's configured timeout is a hard
// deadline on the whole exchange.
func Forward(ctx context.Context, p *database.Provider, r *http.Request, upstreamPath string, body []byte) (*UpstreamResult, error) {
	upstreamURL := strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(upstreamPath, "/")
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	timeout := time.Duration(p.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, r.Method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, "build upstream request")
	}

	copyInboundHeaders(req, r)

	if p.AuthHeaderName != "" {
		value, err := crypto.Decrypt(p.AuthHeaderValue)
		if err != nil {
			return nil, fault.Wrap(fault.Upstream, err, "decrypt provider auth header")
		}
		req.Header.Set(p.AuthHeaderName, value)
	}

	start := time.Now()
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		// Deadline hits are reported as timeouts so operators can tell
		// slow upstreams from unreachable ones. Other transport failures
		// carry no upstream status and surface with status 500.
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, fault.Wrap(fault.Timeout, err, "upstream request timed out")
		}
		return nil, &fault.Fault{
			Kind:    fault.Upstream,
			Message: "upstream request failed",
			Status:  http.StatusInternalServerError,
			Err:     err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &fault.Fault{
			Kind:    fault.Upstream,
			Message: "read upstream response",
			Status:  http.StatusInternalServerError,
			Err:     err,
		}
	}

	return &UpstreamResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
		Duration:   time.Since(start),
	}, nil
}

// copyInboundHeaders forwards client headers, dropping the gateway's own
// auth headers and hop-by-hop fields. Accept-Encoding stays with the
// transport: forwarding it verbatim disables the transport's transparent
// gzip handling and raw compressed bytes would end up in the response body.
func copyInboundHeaders(req *http.Request, r *http.Request) {
	for key, vals := range r.Header {
		lower := strings.ToLower(key)
		if lower == "authorization" || lower == "x-api-key" || lower == "host" ||
			lower == "connection" || lower == "content-length" || lower == "accept-encoding" {
			continue
		}
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}
}
