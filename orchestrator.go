package agentpay

import (
	"context"
	"errors"
	"time"

	"github.com/agentpay/agentpay-go/internal/taskctx"
	"github.com/google/uuid"
)

// CreateTaskRequest is an inbound, already-classified work request. The
// classification fields (category, complexity, tokens, tools) come from an
// external classifier; this core only prices and tracks them.
type CreateTaskRequest struct {
	Channel          string     `json:"channel"`
	ChannelMessageID string     `json:"channelMessageId"`
	SenderID         string     `json:"senderId"`
	SenderAddress    string     `json:"senderAddress,omitempty"`
	Description      string     `json:"description"`
	Category         string     `json:"category"`
	Complexity       Complexity `json:"complexity"`
	EstimatedTokens  int        `json:"estimatedTokens"`
	ToolsRequired    []string   `json:"toolsRequired,omitempty"`
}

// VerifyResponse is the outcome of a payment confirmation attempt.
type VerifyResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
	TaskID   string `json:"taskId"`
}

// Orchestrator drives the task state machine: it accepts priced requests,
// confirms payments against the ledger, and hands paid tasks to skills
// through the scheduler.
type Orchestrator struct {
	cfg      *Config
	store    Store
	verifier *Verifier
	sched    *Scheduler
	registry *Registry
	metrics  *Metrics
	log      Logger
}

// NewOrchestrator wires the components together. metrics may be nil.
func NewOrchestrator(cfg *Config, store Store, verifier *Verifier, sched *Scheduler, registry *Registry, metrics *Metrics, log Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		sched:    sched,
		registry: registry,
		metrics:  metrics,
		log:      orNoop(log),
	}
}

// Start begins consuming the work queue.
func (o *Orchestrator) Start() { o.sched.StartProcessor(o.processTask) }

// Stop drains the scheduler.
func (o *Orchestrator) Stop() { o.sched.Stop() }

// CreateTask prices the request, persists a pending_payment task with the
// quote frozen onto it, and returns the x402 payment response. The price is
// never recalculated after this point.
func (o *Orchestrator) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, *PaymentRequired, error) {
	quote := Calculate(req.Category, req.Complexity, req.EstimatedTokens, req.ToolsRequired)
	now := time.Now().UTC()
	task := &Task{
		ID:               uuid.NewString(),
		Status:           StatusPendingPayment,
		Channel:          req.Channel,
		ChannelMessageID: req.ChannelMessageID,
		SenderID:         req.SenderID,
		SenderAddress:    req.SenderAddress,
		Description:      req.Description,
		Category:         req.Category,
		PriceUSDC:        quote.Total,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		return nil, nil, err
	}
	o.metrics.taskCreated()
	o.log.Infof("task created: id=%s category=%s price=%s", task.ID, task.Category, task.PriceUSDC)

	pr := o.verifier.GeneratePaymentRequest(task.ID, task.PriceUSDC, task.Description, o.cfg.PaymentValidFor)
	return task, o.verifier.FormatAsPaymentRequired(pr), nil
}

// ConfirmPayment verifies a payment proof for a task and, on success, moves
// it to paid and enqueues it for execution. A failed verification leaves the
// task untouched and surfaces the verifier's reason verbatim.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, taskID, txHash, sender string) VerifyResponse {
	task, err := o.store.GetTask(ctx, taskID)
	if errors.Is(err, ErrTaskNotFound) {
		return VerifyResponse{Verified: false, Message: "Task not found", TaskID: taskID}
	}
	if err != nil {
		o.log.Errorf("payment lookup for task %s: %v", taskID, err)
		return VerifyResponse{Verified: false, Message: "Task lookup failed", TaskID: taskID}
	}
	if task.Status != StatusPendingPayment {
		if task.PaidTxHash == txHash {
			// Duplicate proof for an already-confirmed payment.
			return VerifyResponse{Verified: true, Message: "Payment already confirmed", TaskID: taskID}
		}
		return VerifyResponse{Verified: false, Message: "Task is not awaiting payment", TaskID: taskID}
	}
	if o.cfg.EnforceExpiry && time.Now().After(task.CreatedAt.Add(o.cfg.PaymentValidFor)) {
		o.metrics.verificationRejected()
		return VerifyResponse{Verified: false, Message: "Payment request expired", TaskID: taskID}
	}

	proof := PaymentProof{TxHash: txHash, Network: o.verifier.Network().Name}
	res := o.verifier.VerifyPayment(ctx, proof, task.PriceUSDC, sender)
	if !res.Valid {
		o.metrics.verificationRejected()
		o.log.Warnf("payment rejected: task=%s tx=%s reason=%s", taskID, txHash, res.Error)
		return VerifyResponse{Verified: false, Message: res.Error, TaskID: taskID}
	}

	_, err = o.store.UpdateTask(ctx, taskID, TaskUpdate{
		Status:        statusPtr(StatusPaid),
		PaidTxHash:    strPtr(txHash),
		PaidAt:        timePtr(time.Now().UTC()),
		SenderAddress: strPtr(res.Sender),
	})
	if errors.Is(err, ErrStatusRegression) {
		// Lost a race with another proof for the same task.
		return VerifyResponse{Verified: false, Message: "Task is not awaiting payment", TaskID: taskID}
	}
	if err != nil {
		o.log.Errorf("paid transition for task %s: %v", taskID, err)
		return VerifyResponse{Verified: false, Message: "Failed to record payment", TaskID: taskID}
	}
	if err := o.sched.Enqueue(ctx, taskID); err != nil {
		// Payment is recorded; the task can still be re-enqueued out of band.
		o.log.Errorf("enqueue of paid task %s: %v", taskID, err)
	}
	o.metrics.taskPaid()
	o.log.Infof("payment verified: task=%s tx=%s amount=%s sender=%s", taskID, txHash, res.Amount, res.Sender)
	return VerifyResponse{Verified: true, Message: "Payment verified", TaskID: taskID}
}

// processTask is the scheduler handler. Returning an error triggers a queue
// retry, so executor failures are absorbed here and recorded on the task
// instead.
func (o *Orchestrator) processTask(ctx context.Context, task *Task) error {
	if task.Status != StatusPaid {
		// Stale envelope (duplicate delivery, reclaimed lease). Nothing to do.
		o.log.Debugf("skipping task %s in status %s", task.ID, task.Status)
		return nil
	}
	task, err := o.store.UpdateTask(ctx, task.ID, TaskUpdate{
		Status:    statusPtr(StatusInProgress),
		StartedAt: timePtr(time.Now().UTC()),
	})
	if err != nil {
		return err
	}
	o.metrics.taskStarted()

	skill, ok := o.registry.Resolve(task.Category)
	if !ok {
		return o.markFailed(ctx, task.ID, "no skill registered for category "+task.Category)
	}

	ctx = taskctx.With(ctx, &taskctx.Record{
		ID:        task.ID,
		Category:  task.Category,
		SenderID:  task.SenderID,
		Channel:   task.Channel,
		PriceUSDC: task.PriceUSDC,
	})
	result, err := skill.Execute(ctx, task)
	if err != nil {
		return o.markFailed(ctx, task.ID, err.Error())
	}
	if result == nil {
		return o.markFailed(ctx, task.ID, "skill returned no result")
	}

	_, err = o.store.UpdateTask(ctx, task.ID, TaskUpdate{
		Status:      statusPtr(StatusCompleted),
		CompletedAt: timePtr(time.Now().UTC()),
		Deliverable: strPtr(result.Deliverable),
	})
	if err != nil {
		return err
	}
	o.metrics.taskCompleted()
	if result.Approach != "" {
		o.log.Infof("task completed: id=%s approach=%s", task.ID, result.Approach)
	} else {
		o.log.Infof("task completed: id=%s", task.ID)
	}
	return nil
}

func (o *Orchestrator) markFailed(ctx context.Context, taskID, reason string) error {
	_, err := o.store.UpdateTask(ctx, taskID, TaskUpdate{
		Status:      statusPtr(StatusFailed),
		CompletedAt: timePtr(time.Now().UTC()),
		Error:       strPtr(reason),
	})
	if err != nil {
		return err
	}
	o.metrics.taskFailed()
	o.log.Warnf("task failed: id=%s reason=%s", taskID, reason)
	return nil
}

// TaskStatus returns the full task record, or ErrTaskNotFound.
func (o *Orchestrator) TaskStatus(ctx context.Context, taskID string) (*Task, error) {
	return o.store.GetTask(ctx, taskID)
}

// TasksBySender lists a requester's recent tasks.
func (o *Orchestrator) TasksBySender(ctx context.Context, senderID string, limit int) ([]*Task, error) {
	return o.store.TasksBySender(ctx, senderID, limit)
}

// RecentTasks lists the most recently created tasks across all requesters.
func (o *Orchestrator) RecentTasks(ctx context.Context, limit int) ([]*Task, error) {
	return o.store.RecentTasks(ctx, limit)
}

// Stats returns per-status task counts.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	return o.store.GetStats(ctx)
}
