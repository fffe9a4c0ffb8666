package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

type httpCaller struct {
	hc *http.Client
}

func newHTTPCaller() *httpCaller {
	// Per-call deadlines come from the context; the client itself carries
	// no timeout so short connectivity tests and long bulk calls share it.
	return &httpCaller{hc: &http.Client{}}
}

func (h *httpCaller) call(ctx context.Context, cfg ServerConfig, req request, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, connectionErr(err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := h.hc.Do(httpReq)
	if err != nil {
		return nil, h.classify(ctx, err)
	}

	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, h.classify(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, protocolErr(fmt.Sprintf("unexpected status %d: %.200s", resp.StatusCode, raw), resp.StatusCode)
	}

	var envelope response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, protocolErr(fmt.Sprintf("malformed response body: %.100s", raw), 0)
	}

	if envelope.ID != req.ID {
		return nil, protocolErr(fmt.Sprintf("response id %d does not match request id %d", envelope.ID, req.ID), 0)
	}

	if envelope.Error != nil {
		return nil, protocolErr(envelope.Error.Message, envelope.Error.Code)
	}

	if envelope.Result == nil {
		return nil, protocolErr("response missing result", 0)
	}

	return envelope.Result, nil
}

func (h *httpCaller) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timeoutErr(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutErr(err)
	}

	return connectionErr(err)
}
