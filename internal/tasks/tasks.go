package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeInvoiceGenerate   = "purchase:invoice"
	TypeEmailConfirm      = "purchase:email"
	TypePurchaseReconcile = "purchase:reconcile:pending"
)

type PurchasePayload struct {
	PurchaseID string `json:"purchase_id"`
}

type ReconcilePayload struct{}

func NewInvoiceGenerateTask(purchaseID string, opts ...asynq.Option) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(PurchasePayload{PurchaseID: purchaseID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeInvoiceGenerate, payloadBytes, opts...), nil
}

func NewEmailConfirmTask(purchaseID string, opts ...asynq.Option) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(PurchasePayload{PurchaseID: purchaseID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailConfirm, payloadBytes, opts...), nil
}

func NewPurchaseReconcileTask(opts ...asynq.Option) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(ReconcilePayload{})
	if err != nil {
		return nil, err
	}

	uniqueOpt := asynq.Unique(30 * time.Minute)
	allOpts := append(opts, uniqueOpt)

	return asynq.NewTask(TypePurchaseReconcile, payloadBytes, allOpts...), nil
}
