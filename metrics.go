package agentpay

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instruments for the task lifecycle. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	tasksCreated   prometheus.Counter
	tasksPaid      prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	verifyRejected prometheus.Counter
	queueDepth     prometheus.Gauge
}

// NewMetrics creates and registers the lifecycle metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_tasks_created_total",
			Help: "Total number of tasks created awaiting payment",
		}),
		tasksPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_tasks_paid_total",
			Help: "Total number of tasks with a verified payment",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_tasks_completed_total",
			Help: "Total number of tasks completed with a deliverable",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_tasks_failed_total",
			Help: "Total number of tasks that ended in failure",
		}),
		verifyRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_payment_rejections_total",
			Help: "Total number of payment proofs that failed verification",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentpay_queue_depth",
			Help: "Number of paid tasks waiting for a worker",
		}),
	}
	reg.MustRegister(m.tasksCreated, m.tasksPaid, m.tasksCompleted, m.tasksFailed, m.verifyRejected, m.queueDepth)
	return m
}

func (m *Metrics) taskCreated() {
	if m != nil {
		m.tasksCreated.Inc()
	}
}

func (m *Metrics) taskPaid() {
	if m != nil {
		m.tasksPaid.Inc()
		m.queueDepth.Inc()
	}
}

func (m *Metrics) taskStarted() {
	if m != nil {
		m.queueDepth.Dec()
	}
}

func (m *Metrics) taskCompleted() {
	if m != nil {
		m.tasksCompleted.Inc()
	}
}

func (m *Metrics) taskFailed() {
	if m != nil {
		m.tasksFailed.Inc()
	}
}

func (m *Metrics) verificationRejected() {
	if m != nil {
		m.verifyRejected.Inc()
	}
}
