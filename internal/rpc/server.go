// Package rpc serves the facilitator's HTTP API: /supported, /verify,
// /settle, plus health and metrics endpoints.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/utxotab/facilitator/internal/facilitator"
	klog "github.com/utxotab/facilitator/internal/log"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// paymentRequest is the envelope both /verify and /settle accept.
type paymentRequest struct {
	X402Version         int                              `json:"x402Version"`
	PaymentPayload      *facilitator.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *facilitator.PaymentRequirements `json:"paymentRequirements"`
}

// Server is the facilitator's HTTP API server.
type Server struct {
	addr        string
	fac         *facilitator.Facilitator
	metrics     *Metrics
	server      *http.Server
	ln          net.Listener
	logger      zerolog.Logger
	corsOrigins []string
}

// New creates an API server. corsOrigins empty disables CORS headers.
func New(addr string, fac *facilitator.Facilitator, corsOrigins []string) *Server {
	s := &Server{
		addr:        addr,
		fac:         fac,
		metrics:     NewMetrics(),
		logger:      klog.RPC,
		corsOrigins: corsOrigins,
	}

	r := mux.NewRouter()
	r.HandleFunc("/supported", s.handleSupported).Methods(http.MethodGet)
	r.HandleFunc("/verify", s.handleVerify).Methods(http.MethodPost)
	r.HandleFunc("/settle", s.handleSettle).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	// CORS wraps the router so preflight requests are answered even for
	// method-restricted routes.
	s.server = &http.Server{
		Handler:      s.corsMiddleware(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Start begins listening and serving in a background goroutine. It
// returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("api server error")
		}
	}()

	s.logger.Info().Str("addr", s.Addr()).Msg("api server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleSupported(w http.ResponseWriter, r *http.Request) {
	s.metrics.Observe("supported", func() string {
		writeJSON(w, http.StatusOK, facilitator.Supported())
		return "ok"
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePayment(w, r)
	if !ok {
		return
	}
	s.metrics.Observe("verify", func() string {
		res := s.fac.Verify(r.Context(), req.PaymentPayload, req.PaymentRequirements)
		writeJSON(w, http.StatusOK, res)
		if res.IsValid {
			return "valid"
		}
		return res.InvalidReason
	})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePayment(w, r)
	if !ok {
		return
	}
	s.metrics.Observe("settle", func() string {
		res := s.fac.Settle(r.Context(), req.PaymentPayload, req.PaymentRequirements)
		writeJSON(w, http.StatusOK, res)
		if res.Success {
			return "success"
		}
		return res.ErrorReason
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodePayment reads and decodes the request envelope. Undecodable
// bodies answer HTTP 400 carrying the invalid_payment reason.
func (s *Server) decodePayment(w http.ResponseWriter, r *http.Request) (*paymentRequest, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil || len(body) > maxBodySize {
		s.rejectPayment(w, r)
		return nil, false
	}
	var req paymentRequest
	if err := json.Unmarshal(body, &req); err != nil || req.PaymentPayload == nil || req.PaymentRequirements == nil {
		s.rejectPayment(w, r)
		return nil, false
	}
	return &req, true
}

func (s *Server) rejectPayment(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug().Str("path", r.URL.Path).Msg("undecodable payment request")
	if r.URL.Path == "/settle" {
		writeJSON(w, http.StatusBadRequest, facilitator.SettleResult{
			ErrorReason: facilitator.ReasonInvalidPayment,
		})
		return
	}
	writeJSON(w, http.StatusBadRequest, facilitator.VerifyResult{
		InvalidReason: facilitator.ReasonInvalidPayment,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// corsMiddleware adds CORS headers for configured origins and answers
// preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.corsOrigins) > 0 {
			origin := r.Header.Get("Origin")
			for _, o := range s.corsOrigins {
				if o == "*" || o == origin {
					allow := origin
					if o == "*" {
						allow = "*"
					}
					w.Header().Set("Access-Control-Allow-Origin", allow)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
					break
				}
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
