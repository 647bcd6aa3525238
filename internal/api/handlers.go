package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/pipeline"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

// Handler is the processor entry point served on /invoke.
type Handler interface {
	Handle(ctx context.Context, msg pipeline.TransformedMessage) error
}

// QueueProducer enqueues opaque payloads.
type QueueProducer interface {
	Send(ctx context.Context, body []byte) (string, error)
}

// StreamProducer appends payloads to the partitioned log.
type StreamProducer interface {
	Put(ctx context.Context, partitionKey string, data []byte) (string, uint64, error)
}

// Server exposes the processor, the producer endpoints and the routers'
// stats over HTTP. Nil components are not routed.
type Server struct {
	Processor Handler
	Queue     QueueProducer
	Stream    StreamProducer
	Routers   []pipeline.Router

	// Checks are named health probes reported on /health.
	Checks map[string]func(ctx context.Context) error

	MaxBodyBytes int64
	startTime    time.Time
}

func NewServer(proc Handler, routers ...pipeline.Router) *Server {
	return &Server{
		Processor:    proc,
		Routers:      routers,
		Checks:       make(map[string]func(ctx context.Context) error),
		MaxBodyBytes: 1 << 20,
		startTime:    time.Now(),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Wrap all handlers with request ID middleware
	if s.Processor != nil {
		mux.Handle("/invoke", RequestIDMiddleware(http.HandlerFunc(s.handleInvoke)))
	}
	if s.Queue != nil {
		mux.Handle("/queue/messages", RequestIDMiddleware(http.HandlerFunc(s.handleQueueMessage)))
	}
	if s.Stream != nil {
		mux.Handle("/stream/records", RequestIDMiddleware(http.HandlerFunc(s.handleStreamRecord)))
	}
	mux.Handle("/health", RequestIDMiddleware(http.HandlerFunc(s.handleHealth)))
	mux.Handle("/stats", RequestIDMiddleware(http.HandlerFunc(s.handleStats)))
	mux.Handle("/metrics", promhttp.Handler())
}

// handleInvoke accepts one envelope or a JSON array of envelopes. It
// answers 200 only when every envelope was handled.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rid := GetRequestID(r.Context())
	log := logger.Get().With("request_id", rid)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		log.Warnw("request rejected", "method", r.Method, "path", r.URL.Path, "status", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, s.MaxBodyBytes+1))
	if err != nil || int64(len(raw)) > s.MaxBodyBytes {
		http.Error(w, "body too large or unreadable", http.StatusRequestEntityTooLarge)
		log.Warnw("invoke body rejected", "error", err, "status", http.StatusRequestEntityTooLarge)
		return
	}

	msgs, err := decodeEnvelopes(raw)
	if err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		log.Warnw("invalid JSON body", "error", err, "status", http.StatusBadRequest)
		return
	}

	for i, msg := range msgs {
		if err := s.Processor.Handle(r.Context(), msg); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":     err.Error(),
				"processed": i,
			})
			log.Errorw("error while processing event", "error", err, "index", i)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "processed": len(msgs)})
	log.Infow("invocation completed",
		"count", len(msgs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func decodeEnvelopes(raw []byte) ([]pipeline.TransformedMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var msgs []pipeline.TransformedMessage
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, err
		}
		return msgs, nil
	}
	var msg pipeline.TransformedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return []pipeline.TransformedMessage{msg}, nil
}

func (s *Server) handleQueueMessage(w http.ResponseWriter, r *http.Request) {
	rid := GetRequestID(r.Context())
	log := logger.Get().With("request_id", rid)

	body, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	id, err := s.Queue.Send(r.Context(), body)
	if err != nil {
		http.Error(w, "enqueue failed", http.StatusServiceUnavailable)
		log.Errorw("enqueue failed", "error", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id})
	log.Infow("message accepted", "message_id", id, "bytes", len(body))
}

func (s *Server) handleStreamRecord(w http.ResponseWriter, r *http.Request) {
	rid := GetRequestID(r.Context())
	log := logger.Get().With("request_id", rid)

	body, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	key := r.URL.Query().Get("partition_key")
	if key == "" {
		key = rid
	}
	partition, seq, err := s.Stream.Put(r.Context(), key, body)
	if err != nil {
		http.Error(w, "append failed", http.StatusServiceUnavailable)
		log.Errorw("append failed", "error", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"partition":       partition,
		"sequence_number": strconv.FormatUint(seq, 10),
	})
	log.Infow("record accepted", "partition", partition, "sequence", seq, "bytes", len(body))
}

// readPayload reads a producer body and rejects anything but a non-empty
// POST within the size limit.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.MaxBodyBytes+1))
	if err != nil || int64(len(body)) > s.MaxBodyBytes {
		http.Error(w, "body too large or unreadable", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	if len(body) == 0 {
		http.Error(w, "empty payload", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rid := GetRequestID(r.Context())
	log := logger.Get().With("request_id", rid)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthy := true
	checks := make(map[string]string, len(s.Checks))
	for name, check := range s.Checks {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"healthy": healthy, "checks": checks})

	log.Debugw("health check", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "healthy", healthy)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	rid := GetRequestID(r.Context())
	log := logger.Get().With("request_id", rid)

	routers := make([]map[string]interface{}, 0, len(s.Routers))
	for _, rt := range s.Routers {
		routers = append(routers, rt.Metrics().Snapshot())
	}
	stats := map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"routers":        routers,
	}

	writeJSON(w, http.StatusOK, stats)
	log.Debugw("stats requested", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
