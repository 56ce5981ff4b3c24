// Package metrics содержит Prometheus-метрики журнала баллов, обменов и подтверждений.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы операций для меток outcome.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics объединяет коллекторы сервиса. Методы нулевого указателя ничего не делают.
type Metrics struct {
	ledgerEntries *prometheus.CounterVec
	ledgerPoints  *prometheus.CounterVec
	redemptions   *prometheus.CounterVec
	approvals     *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New регистрирует коллекторы в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ledgerEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "familypoints",
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Total ledger entries appended by direction and cause.",
		}, []string{"direction", "cause"}),
		ledgerPoints: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "familypoints",
			Subsystem: "ledger",
			Name:      "points_total",
			Help:      "Total points moved by direction.",
		}, []string{"direction"}),
		redemptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "familypoints",
			Subsystem: "rewards",
			Name:      "redemptions_total",
			Help:      "Reward redemption attempts by outcome.",
		}, []string{"outcome"}),
		approvals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "familypoints",
			Subsystem: "tasks",
			Name:      "approvals_total",
			Help:      "Task completion approval attempts by outcome.",
		}, []string{"outcome"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "familypoints",
			Subsystem: "notify",
			Name:      "dispatched_total",
			Help:      "Notifications dispatched by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
}

// LedgerEntry учитывает добавленную запись журнала.
func (m *Metrics) LedgerEntry(direction, cause string, amount int64) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(direction, cause).Inc()
	m.ledgerPoints.WithLabelValues(direction).Add(float64(amount))
}

// Redemption учитывает попытку обмена.
func (m *Metrics) Redemption(outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(outcome).Inc()
}

// Approval учитывает попытку подтверждения заявки.
func (m *Metrics) Approval(outcome string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(outcome).Inc()
}

// Notification учитывает отправку уведомления.
func (m *Metrics) Notification(kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}
