package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"gpio-node/internal/domain"
	"gpio-node/internal/infra/tracer"
)

// serveAPI frames one router result as JSON. Requests are serialized.
func (s *Server) serveAPI(w http.ResponseWriter, r *http.Request) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	start := time.Now()
	req := domain.Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	ctx, span := tracer.StartSpan(r.Context(), "gateway.request",
		tracer.StringAttr("http.method", req.Method),
		tracer.StringAttr("http.path", req.Path),
	)
	defer span.End()

	res := s.handler.Handle(ctx, req)
	if res.HTTPStatus == 0 {
		res.HTTPStatus = http.StatusOK
	}
	s.metrics.observe(res.HTTPStatus)

	span.SetAttributes(tracer.IntAttr("http.status_code", res.HTTPStatus))
	if res.OK() {
		tracer.SetOK(span)
	} else if res.HTTPStatus >= http.StatusInternalServerError {
		tracer.RecordError(span, domain.NewDomainError("gateway.request", domain.ErrTransportFault, res.Message))
	}

	writeResult(w, res)

	elapsed := time.Since(start)
	s.logger.Debug("api request",
		"method", req.Method,
		"path", req.Path,
		"query", req.RawQuery,
		"status", res.HTTPStatus,
		"duration", elapsed,
	)
	if s.bus != nil {
		s.bus.Publish(ctx, domain.NewEvent(domain.EventRequestHandled, domain.RequestPayload{
			Method:     req.Method,
			Path:       req.Path,
			Query:      req.RawQuery,
			HTTPStatus: res.HTTPStatus,
			Message:    res.Message,
			DurationMS: elapsed.Milliseconds(),
		}))
	}
}

func writeResult(w http.ResponseWriter, res domain.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.HTTPStatus)
	_ = json.NewEncoder(w).Encode(res)
}
