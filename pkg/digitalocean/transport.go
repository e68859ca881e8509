package digitalocean

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nightshift/droplet-scheduler/pkg/metrics"
)

// rawBody replays a response body that was already read for logging and keeps
// the bytes so error responses can carry them verbatim.
type rawBody struct {
	*bytes.Reader
	raw []byte
}

func (b *rawBody) Close() error { return nil }

// loggingTransport logs every API round trip: method, path, status and body.
type loggingTransport struct {
	base http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		slog.Error("do_api_transport_failed", "method", req.Method, "path", req.URL.RequestURI(), "error", err)
		metrics.APIRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		slog.Error("do_api_body_read_failed", "method", req.Method, "path", req.URL.RequestURI(), "status", resp.StatusCode, "error", err)
		metrics.APIRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		return nil, err
	}
	resp.Body = &rawBody{Reader: bytes.NewReader(raw), raw: raw}

	slog.Info("do_api_response",
		"method", req.Method,
		"path", req.URL.RequestURI(),
		"status", resp.StatusCode,
		"body", string(raw),
	)
	metrics.APIRequestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()

	return resp, nil
}
