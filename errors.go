package agentpay

import "errors"

// ErrTaskNotFound is returned when a task with the specified ID is not found.
var ErrTaskNotFound = errors.New("agentpay: task not found")

// ErrDuplicateTask is returned when CreateTask is called with an ID that already exists.
var ErrDuplicateTask = errors.New("agentpay: duplicate task id")

// ErrUnknownStatus is returned when an invalid status string is used.
var ErrUnknownStatus = errors.New("agentpay: unknown status")

// ErrStatusRegression is returned when an update would move a task backwards
// through the lifecycle, or out of a terminal status.
var ErrStatusRegression = errors.New("agentpay: status regression")

// ErrInsufficientBalance is returned by SendPayment when the wallet cannot
// cover the transfer while keeping the configured treasury floor.
var ErrInsufficientBalance = errors.New("agentpay: insufficient balance")

// ErrPaymentTooLarge is returned by SendPayment when the amount exceeds the
// configured single-payment limit.
var ErrPaymentTooLarge = errors.New("agentpay: payment exceeds single-payment limit")

// ErrMissingSigningKey is returned at construction when no wallet key is configured.
// The verifier cannot operate without one, so this aborts startup.
var ErrMissingSigningKey = errors.New("agentpay: missing wallet signing key")
