package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type requestMetrics struct {
	logger        *log.Logger
	method        string
	route         string
	requestID     string
	start         time.Time
	refreshDur    time.Duration
	refreshed     bool
	replayed      bool
	responseBytes int
	errorStage    string
}

func newRequestMetrics(logger *log.Logger, method, route, requestID string) *requestMetrics {
	return &requestMetrics{
		logger:    logger,
		method:    method,
		route:     route,
		requestID: requestID,
		start:     time.Now(),
	}
}

func (m *requestMetrics) ObserveRefresh(duration time.Duration) {
	m.refreshed = true
	if duration > 0 {
		m.refreshDur = duration
	}
}

func (m *requestMetrics) SetReplayed() {
	m.replayed = true
}

func (m *requestMetrics) SetResponseBytes(n int) {
	if n < 0 {
		n = 0
	}
	m.responseBytes = n
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"method":         m.method,
		"route":          m.route,
		"request_id":     m.requestID,
		"status":         status,
		"total_ms":       durationToMillis(time.Since(m.start)),
		"refreshed":      m.refreshed,
		"replayed":       m.replayed,
		"response_bytes": m.responseBytes,
	}
	if m.refreshDur > 0 {
		fields["refresh_ms"] = durationToMillis(m.refreshDur)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Debug("gateway.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
