// Package metrics содержит метрики Prometheus реферального сервиса.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mmeshcher/elixr-referral/internal/repository"
)

const namespace = "elixr_referral"

const (
	FaultStoreUnavailable = "store_unavailable"
	FaultAmbiguousMatch   = "ambiguous_match"
	FaultUnknown          = "unknown"
)

// Metrics хранит счётчики проверок, начислений и сбоев хранилища.
// Методы допускают nil-получателя.
type Metrics struct {
	validations  *prometheus.CounterVec
	attributions *prometheus.CounterVec
	faults       *prometheus.CounterVec
	rateLimited  prometheus.Counter
	watcherBatch *prometheus.CounterVec
}

// New регистрирует метрики в указанном реестре.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	f := promauto.With(registerer)

	return &Metrics{
		validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Referral code validations by decision and reason.",
		}, []string{"decision", "reason"}),
		attributions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attributions_total",
			Help:      "Reward attributions by outcome and reason.",
		}, []string{"outcome", "reason"}),
		faults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Store faults surfaced to callers.",
		}, []string{"operation", "kind"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Validation requests rejected by the rate limiter.",
		}),
		watcherBatch: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_entries_total",
			Help:      "Pending order rewards resolved by the order watcher.",
		}, []string{"result"}),
	}
}

// RecordValidation учитывает результат проверки кода.
func (m *Metrics) RecordValidation(accepted bool, reason string) {
	if m == nil {
		return
	}
	decision := "rejected"
	if accepted {
		decision = "accepted"
	}
	m.validations.WithLabelValues(decision, reason).Inc()
}

// RecordAttribution учитывает результат начисления.
func (m *Metrics) RecordAttribution(outcome, reason string) {
	if m == nil {
		return
	}
	m.attributions.WithLabelValues(outcome, reason).Inc()
}

// RecordFault учитывает сбой операции.
func (m *Metrics) RecordFault(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.faults.WithLabelValues(operation, ClassifyFault(err)).Inc()
}

// RecordRateLimited учитывает запрос, отклонённый ограничителем.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// RecordWatcher учитывает запись, обработанную наблюдателем заказов.
func (m *Metrics) RecordWatcher(result string) {
	if m == nil {
		return
	}
	m.watcherBatch.WithLabelValues(result).Inc()
}

// ClassifyFault возвращает тип сбоя для метки метрики.
func ClassifyFault(err error) string {
	switch {
	case errors.Is(err, repository.ErrStoreUnavailable):
		return FaultStoreUnavailable
	case errors.Is(err, repository.ErrAmbiguousMatch):
		return FaultAmbiguousMatch
	default:
		return FaultUnknown
	}
}
