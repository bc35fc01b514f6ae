// File: internal/workflow/otp_callback.go
// Description: HTTP intake for OTP codes in callback mode. An SMS gateway
// posts the received code and the waiting attempt picks it up through the
// channel source.

package workflow

import (
	"context"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var callbackJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// CallbackServer accepts code deliveries over HTTP and feeds them to the
// channel source the engine waits on.
type CallbackServer struct {
	source *ChannelOTPSource
	srv    *http.Server
	logger *zap.Logger
}

// NewCallbackServer builds the server. It does not listen until Start.
func NewCallbackServer(addr string, source *ChannelOTPSource, logger *zap.Logger) *CallbackServer {
	s := &CallbackServer{source: source, logger: logger.Named("otp_callback")}
	mux := http.NewServeMux()
	mux.HandleFunc("/otp", s.handleDelivery)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ServeHTTP exposes the route table directly for embedding.
func (s *CallbackServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.srv.Handler.ServeHTTP(w, r)
}

// Start serves until Shutdown. It blocks; run it on its own goroutine.
func (s *CallbackServer) Start() error {
	s.logger.Info("OTP callback listening.", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting deliveries.
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type otpDelivery struct {
	Number string `json:"number"`
	Code   string `json:"code"`
}

func (s *CallbackServer) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var d otpDelivery
	if err := callbackJSON.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	d.Number = strings.TrimSpace(d.Number)
	d.Code = strings.TrimSpace(d.Code)
	if d.Number == "" || d.Code == "" {
		http.Error(w, "number and code are required", http.StatusBadRequest)
		return
	}
	// Attempts key their wait by the formatted number.
	if !strings.HasPrefix(d.Number, "+") {
		d.Number = "+" + d.Number
	}
	s.source.Deliver(d.Number, d.Code)
	s.logger.Info("Code delivered.", zap.String("resource", d.Number))
	w.WriteHeader(http.StatusNoContent)
}
