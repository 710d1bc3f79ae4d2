package agentpay

import "time"

// Status represents a task lifecycle state. Use the exported constants
// (StatusPendingPayment, StatusPaid, etc.) instead of raw strings to avoid typos.
type Status string

const (
	// StatusPendingPayment contains tasks waiting for an on-chain payment.
	StatusPendingPayment Status = "pending_payment"
	// StatusPaid contains tasks whose payment has been verified and that are queued for execution.
	StatusPaid Status = "paid"
	// StatusInProgress contains tasks currently being executed by a skill.
	StatusInProgress Status = "in_progress"
	// StatusCompleted contains tasks that finished with a deliverable. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed contains tasks that finished with an error. Terminal.
	StatusFailed Status = "failed"
)

// AllStatuses lists every valid task status in lifecycle order.
var AllStatuses = []Status{StatusPendingPayment, StatusPaid, StatusInProgress, StatusCompleted, StatusFailed}

// String returns the raw string value of the status.
func (s Status) String() string { return string(s) }

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// ParseStatus converts a string into a Status, returning an error for unknown values.
func ParseStatus(s string) (Status, error) {
	switch s {
	case string(StatusPendingPayment):
		return StatusPendingPayment, nil
	case string(StatusPaid):
		return StatusPaid, nil
	case string(StatusInProgress):
		return StatusInProgress, nil
	case string(StatusCompleted):
		return StatusCompleted, nil
	case string(StatusFailed):
		return StatusFailed, nil
	default:
		return "", ErrUnknownStatus
	}
}

var statusRank = map[Status]int{
	StatusPendingPayment: 0,
	StatusPaid:           1,
	StatusInProgress:     2,
	StatusCompleted:      3,
	StatusFailed:         3,
}

// canAdvance reports whether moving from one status to another preserves
// lifecycle monotonicity. Only strictly forward moves are allowed: a
// duplicate write of the current status is rejected like a regression, which
// also keeps the payment fields set-exactly-once.
func canAdvance(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	return statusRank[to] > statusRank[from]
}

// Task is a single billable unit of requested work tracked through the
// payment-and-execution lifecycle. It is serialized to JSON for storage.
type Task struct {
	// ID is the unique identifier for the task, assigned at creation.
	ID string `json:"id"`
	// Status is the current lifecycle state. It never regresses.
	Status Status `json:"status"`
	// Channel identifies the inbound transport the request arrived on.
	Channel string `json:"channel"`
	// ChannelMessageID is the transport-level message id of the request.
	ChannelMessageID string `json:"channelMessageId"`
	// SenderID is the requester's identity on the channel.
	SenderID string `json:"senderId"`
	// SenderAddress is the requester's wallet address, once known.
	SenderAddress string `json:"senderAddress,omitempty"`
	// Description is the requested work, immutable once set.
	Description string `json:"description"`
	// Category is the classified task category, immutable once set.
	Category string `json:"category"`
	// PriceUSDC is the quoted price as a decimal string, frozen at creation.
	PriceUSDC string `json:"priceUsdc"`
	// PaidTxHash is the transaction hash of the verified payment.
	PaidTxHash string `json:"paidTxHash,omitempty"`
	// PaidAt is when the payment was verified.
	PaidAt *time.Time `json:"paidAt,omitempty"`
	// StartedAt is when a worker began executing the task.
	StartedAt *time.Time `json:"startedAt,omitempty"`
	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	// Deliverable is the produced work. Set exactly when Status is completed.
	Deliverable string `json:"deliverable,omitempty"`
	// Error is the failure reason. Set exactly when Status is failed.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy of the task so callers cannot mutate stored records.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.PaidAt != nil {
		v := *t.PaidAt
		c.PaidAt = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// TaskUpdate is a partial update applied by Store.UpdateTask. Nil fields are
// left untouched. Provenance, description, category and price are immutable
// and deliberately absent.
type TaskUpdate struct {
	Status        *Status
	SenderAddress *string
	PaidTxHash    *string
	PaidAt        *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Deliverable   *string
	Error         *string
}

// apply merges the update into the task and refreshes UpdatedAt. It rejects
// status regressions so a stored task can never move backwards through the
// lifecycle.
func (u TaskUpdate) apply(t *Task, now time.Time) error {
	if u.Status != nil {
		if !canAdvance(t.Status, *u.Status) {
			return ErrStatusRegression
		}
		t.Status = *u.Status
	}
	if u.SenderAddress != nil {
		t.SenderAddress = *u.SenderAddress
	}
	if u.PaidTxHash != nil {
		t.PaidTxHash = *u.PaidTxHash
	}
	if u.PaidAt != nil {
		v := *u.PaidAt
		t.PaidAt = &v
	}
	if u.StartedAt != nil {
		v := *u.StartedAt
		t.StartedAt = &v
	}
	if u.CompletedAt != nil {
		v := *u.CompletedAt
		t.CompletedAt = &v
	}
	if u.Deliverable != nil {
		t.Deliverable = *u.Deliverable
	}
	if u.Error != nil {
		t.Error = *u.Error
	}
	t.UpdatedAt = now
	return nil
}

// Stats holds per-status task counts.
type Stats struct {
	Pending    int64 `json:"pending"`
	Paid       int64 `json:"paid"`
	InProgress int64 `json:"inProgress"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// statusPtr is a small helper for building TaskUpdate values.
func statusPtr(s Status) *Status { return &s }

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
