package api

import (
	"math"
	"net/http"
)

// authThrottleMiddleware limits failed register and login attempts per
// client address. Only 4xx responses count as failures; a 5xx means the
// server could not judge the attempt. If the throttle store is unreachable
// the request is let through.
func (s *Server) authThrottleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		retryAfter, err := s.throttle.Check(r.Context(), ip)
		if err != nil {
			s.logger.Warn("auth throttle unavailable, allowing request", "client_ip", ip, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if retryAfter > 0 {
			s.logger.Warn("auth throttle blocked request", "client_ip", ip, "path", r.URL.Path)
			if s.metrics != nil {
				s.metrics.ObserveThrottleBlock()
			}
			writeRateLimited(w, "Too many failed attempts, please try again later", int(math.Ceil(retryAfter.Seconds())))
			return
		}

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if isClientFailure(wrapped.status) {
			if err := s.throttle.RecordFailure(r.Context(), ip); err != nil {
				s.logger.Warn("recording auth failure", "client_ip", ip, "error", err)
			}
		}
	})
}

func isClientFailure(status int) bool {
	return status >= http.StatusBadRequest && status < http.StatusInternalServerError
}
