// Command backend runs a lightweight HTTP mock of a HuggingFace-style
// text-generation API. It is used for E2E testing the gateway without real
// credentials.
//
// Listens on :19001 by default (override with PORT).
//
// Behaviour flags (via env):
//
//	MOCK_LATENCY_MS — artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE — fraction [0,1] of requests that return HTTP 503 (default 0)
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

type generateRequest struct {
	Inputs string `json:"inputs"`
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	latency := envInt("MOCK_LATENCY_MS", 0)
	errorRate := envFloat("MOCK_ERROR_RATE", 0)
	port := os.Getenv("PORT")
	if port == "" {
		port = "19001"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /models/", func(w http.ResponseWriter, r *http.Request) {
		if latency > 0 {
			time.Sleep(time.Duration(latency) * time.Millisecond)
		}
		if errorRate > 0 && rand.Float64() < errorRate {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "model overloaded"})
			return
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid body"})
			return
		}

		model := strings.TrimPrefix(r.URL.Path, "/models/")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]string{
			{"generated_text": "[" + model + "] " + req.Inputs},
		})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("mock backend listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("mock backend failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			return f
		}
	}
	return def
}
