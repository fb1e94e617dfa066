package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/citizenwallet/lazynode/internal/common"
	"github.com/citizenwallet/lazynode/internal/version"
	"github.com/citizenwallet/lazynode/pkg/jsonrpc"
	"github.com/citizenwallet/lazynode/pkg/jsonrpc/eth"
	"github.com/citizenwallet/lazynode/pkg/proxy"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var errInvalidBody = errors.New("request body must be valid JSON")

type Router struct {
	proxy    *proxy.Proxy
	gatherer prometheus.Gatherer
	maxBody  int64
	logger   *zap.Logger
}

func NewServer(p *proxy.Proxy, gatherer prometheus.Gatherer, maxBody int64, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Router{
		p,
		gatherer,
		maxBody,
		logger,
	}
}

// Handler builds the routes of the proxy.
func (r *Router) Handler() http.Handler {
	cr := chi.NewRouter()

	// configure middleware
	cr.Use(middleware.RequestID)
	cr.Use(middleware.RealIP)
	cr.Use(RequestLogger(r.logger))
	cr.Use(middleware.Recoverer)

	// configure custom middleware
	cr.Use(OptionsMiddleware)
	cr.Use(HealthMiddleware)
	cr.Use(RequestSizeLimitMiddleware(r.maxBody))

	v := version.NewService()

	// configure routes
	cr.Post("/", r.ServeRPC)
	cr.Get("/version", v.Current)

	if r.gatherer != nil {
		cr.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	}

	return cr
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (r *Router) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(sctx)
}

// ServeRPC answers eth_blockNumber from the proxy's cache and forwards any
// other request to the upstream node.
func (r *Router) ServeRPC(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			common.Error(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		common.Error(w, http.StatusBadRequest, err)
		return
	}
	defer req.Body.Close()

	if !json.Valid(body) {
		common.Error(w, http.StatusBadRequest, errInvalidBody)
		return
	}

	if bn, err := eth.DecodeBlockNumberRequest(body); err == nil {
		b, err := json.Marshal(r.proxy.BlockNumber(req.Context(), bn))
		if err != nil {
			r.fail(w, req, body, err)
			return
		}

		common.Body(w, http.StatusOK, b)
		return
	}

	resp, err := r.proxy.Forward(req.Context(), body)
	if err != nil {
		r.fail(w, req, body, err)
		return
	}

	common.Body(w, http.StatusOK, resp)
}

func (r *Router) fail(w http.ResponseWriter, req *http.Request, body []byte, err error) {
	if errors.Is(err, context.Canceled) && req.Context().Err() != nil {
		r.logger.Debug("client went away", zap.String("method", jsonrpc.PeekMethod(body)))
		return
	}

	r.logger.Warn("error proxying request",
		zap.String("request_id", middleware.GetReqID(req.Context())),
		zap.String("method", jsonrpc.PeekMethod(body)),
		zap.ByteString("body", body),
		zap.Error(err),
	)
	sentry.CaptureException(err)

	common.Error(w, http.StatusInternalServerError, err)
}
