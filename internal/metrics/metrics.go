package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignInsTotal counts sign-in attempts by outcome: created, existing,
	// rejected, error.
	SignInsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loginlab_signins_total",
		Help: "Sign-in attempts by outcome.",
	}, []string{"outcome"})

	// RotationsTotal counts refresh-token rotations by outcome: rotated,
	// rejected, error. A rejected rotation includes reuse of an
	// already-rotated token.
	RotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loginlab_session_rotations_total",
		Help: "Refresh token rotations by outcome.",
	}, []string{"outcome"})

	// ProviderErrorsTotal counts upstream identity-provider failures by
	// operation: exchange, revoke.
	ProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loginlab_provider_errors_total",
		Help: "Identity provider call failures by operation.",
	}, []string{"op"})
)
