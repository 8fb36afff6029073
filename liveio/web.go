package liveio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"gensim/runtime"
)

// WebHandler services runtime.NondetWebRequest calls (spec §4.6). It
// satisfies engine.WebHandler structurally. Outbound real requests are
// rate-limited with golang.org/x/time/rate so a misbehaving contract can't
// hammer an external host through the simulator.
type WebHandler struct {
	mocks   map[string]WebMockEntry
	client  *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewWebHandler constructs a WebHandler. ratePerSecond <= 0 disables
// limiting. A nil client falls back to http.DefaultClient.
func NewWebHandler(mocks map[string]WebMockEntry, client *http.Client, ratePerSecond float64, logger *logrus.Logger) *WebHandler {
	if client == nil {
		client = http.DefaultClient
	}
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &WebHandler{mocks: mocks, client: client, limiter: limiter, logger: logger}
}

// Do implements engine.WebHandler. Failures are never returned as a Go
// error — they're encoded as a 502 response, per spec §4.6.
func (w *WebHandler) Do(req runtime.NondetRequest) runtime.NondetResponse {
	traceID := uuid.NewString()

	if entry, ok := matchFirst(w.mocks, req.WebURL); ok {
		if w.logger != nil {
			w.logger.WithFields(logrus.Fields{"trace_id": traceID, "url": req.WebURL}).Debug("liveio: web mock matched")
		}
		return runtime.NondetResponse{WebStatus: entry.Status, WebBody: []byte(entry.Body)}
	}

	if w.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.limiter.Wait(ctx); err != nil {
			return errResponse(fmt.Errorf("liveio: rate limit: %w", err))
		}
	}

	method := req.WebMethod
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequest(method, req.WebURL, bodyReader(req.WebBody))
	if err != nil {
		return errResponse(err)
	}
	for k, v := range req.WebHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		if w.logger != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{"trace_id": traceID, "url": req.WebURL}).Debug("liveio: web request failed")
		}
		return errResponse(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errResponse(err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return runtime.NondetResponse{WebStatus: resp.StatusCode, WebHeaders: headers, WebBody: body}
}

func errResponse(err error) runtime.NondetResponse {
	return runtime.NondetResponse{WebStatus: 502, WebBody: []byte(err.Error())}
}

func bodyReader(b []byte) io.Reader {
	if len(b) == 0 {
		return nil
	}
	return bytes.NewReader(b)
}
