// Package handler contains the Echo handlers for the proxy and monitoring
// servers.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"opensearch-proxy-go/internal/model"
	"opensearch-proxy-go/internal/service"
)

// ProxyHandler serves every inbound proxy request: it materializes the
// body, hands the envelope to the router and writes back whichever
// response came out, synthesized or forwarded.
type ProxyHandler struct {
	router *service.Router
	logger *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(r *service.Router, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		router: r,
		logger: logger.With("component", "proxy_handler"),
	}
}

// Handle processes one request end to end.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		h.logger.Error("reading request body",
			"err", err,
			"path", req.URL.Path,
		)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	env := &model.RequestEnvelope{
		Ctx:        req.Context(),
		Method:     req.Method,
		Path:       req.URL.Path,
		RawQuery:   req.URL.RawQuery,
		RequestURI: req.RequestURI,
		Host:       req.Host,
		Header:     req.Header,
		Body:       body,
	}

	resp, err := h.router.Route(env)
	if err != nil {
		return h.mapError(c, err)
	}

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	if _, err := c.Response().Write(resp.Body); err != nil {
		// The status line is already on the wire; all we can do is log.
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// mapError converts an upstream forwarding error into a gateway response.
// A broken backend connection must never take down the serving process;
// the client sees a 502 or 504 instead.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("upstream error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "upstream request timed out",
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
