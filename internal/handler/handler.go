package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/auth"
	"github.com/iurnickita/keyvend/internal/handler/config"
	"github.com/iurnickita/keyvend/internal/logger"
	"github.com/iurnickita/keyvend/internal/service"
)

const shutdownTimeout = 5 * time.Second

// Serve runs the HTTP API until ctx is done.
func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, service service.Service, gatherer prometheus.Gatherer, zaplog *zap.Logger) error {
	h := newHandler(auth, service, gatherer, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	zaplog.Info("http server started", zap.String("addr", cfg.ServerAddr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type handler struct {
	auth     auth.Auth
	service  service.Service
	gatherer prometheus.Gatherer
	zaplog   *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, gatherer prometheus.Gatherer, zaplog *zap.Logger) *handler {
	return &handler{
		auth:     auth,
		service:  service,
		gatherer: gatherer,
		zaplog:   zaplog.Named("http"),
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders", logger.RequestLogMdlw(h.auth.Middleware(h.PostOrder, auth.RoleService, auth.RoleAdmin), h.zaplog))
	mux.HandleFunc("GET /api/orders/{id}", logger.RequestLogMdlw(h.auth.Middleware(h.GetOrder, auth.RoleService, auth.RoleAdmin), h.zaplog))
	mux.HandleFunc("GET /api/buyers/{id}/balance", logger.RequestLogMdlw(h.auth.Middleware(h.GetBalance, auth.RoleService, auth.RoleAdmin), h.zaplog))
	mux.HandleFunc("GET /api/buyers/{id}/balance/history", logger.RequestLogMdlw(h.auth.Middleware(h.GetBalanceHistory, auth.RoleService, auth.RoleAdmin), h.zaplog))
	mux.HandleFunc("GET /api/products", logger.RequestLogMdlw(h.auth.Middleware(h.GetProducts, auth.RoleService, auth.RoleAdmin), h.zaplog))

	mux.HandleFunc("POST /api/admin/orders/{id}/approve", logger.RequestLogMdlw(h.auth.Middleware(h.PostApprove, auth.RoleAdmin), h.zaplog))
	mux.HandleFunc("POST /api/admin/keys/{variant}", logger.RequestLogMdlw(h.auth.Middleware(h.PostKeys, auth.RoleAdmin), h.zaplog))
	mux.HandleFunc("GET /api/admin/keys/{variant}", logger.RequestLogMdlw(h.auth.Middleware(h.GetKeys, auth.RoleAdmin), h.zaplog))
	mux.HandleFunc("GET /api/admin/events", logger.RequestLogMdlw(h.auth.Middleware(h.GetEvents, auth.RoleAdmin), h.zaplog))
	mux.HandleFunc("GET /api/admin/anomalies", logger.RequestLogMdlw(h.auth.Middleware(h.GetAnomalies, auth.RoleAdmin), h.zaplog))
	mux.HandleFunc("PUT /api/admin/buyers/{id}/role", logger.RequestLogMdlw(h.auth.Middleware(h.PutRole, auth.RoleAdmin), h.zaplog))
	mux.HandleFunc("POST /api/admin/buyers/{id}/balance", logger.RequestLogMdlw(h.auth.Middleware(h.PostBalanceAdjust, auth.RoleAdmin), h.zaplog))

	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (h *handler) writeJSON(w http.ResponseWriter, code int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(responseJSON)
}
