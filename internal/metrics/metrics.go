package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActivationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlement_activation_attempts_total",
		Help: "Device activation attempts by outcome.",
	}, []string{"outcome"})

	VerifyAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlement_verify_attempts_total",
		Help: "License verification attempts by outcome.",
	}, []string{"outcome"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlement_webhook_deliveries_total",
		Help: "Processor webhook deliveries by result.",
	}, []string{"result"})

	PurchasesProvisioned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_purchases_provisioned_total",
		Help: "Purchases that reached approved and had license seats materialized.",
	})

	SeatsMaterialized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_license_seats_materialized_total",
		Help: "License seat rows created by the provisioning coordinator.",
	})
)
