package main

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"time"
)

type metricSample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type fact struct {
	Topic      string  `json:"topic"`
	Statement  string  `json:"statement"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

func main() {
	started := time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/intel/metrics", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		// Slow drift plus a sine wobble so consecutive checks see real
		// changes and the detectors have something to chew on.
		t := time.Since(started).Minutes()
		writeJSON(w, map[string]any{
			"metrics": []metricSample{
				{Name: "financial.revenue", Value: 120 + 2*t + 6*math.Sin(t/3)},
				{Name: "financial.margin", Value: 0.32 + 0.01*math.Sin(t/5)},
				{Name: "market.share", Value: 0.27 + 0.002*t},
				{Name: "sentiment.score", Value: 0.6 + 0.15*math.Sin(t/2)},
			},
		})
	})

	mux.HandleFunc("/api/v1/intel/facts", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"facts": []fact{
				{Topic: "product", Statement: "announced a usage-based pricing tier", Confidence: 0.8, Source: "press-release"},
				{Topic: "market", Statement: "expanding sales coverage into APAC", Confidence: 0.6, Source: "quarterly-filing"},
				{Topic: "news", Statement: "coverage volume up week over week", Confidence: 0.5, Source: "aggregator"},
			},
		})
	})

	logger := log.New(log.Writer(), "signals-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
