package domain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var domainErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fabric_domain_errors_total",
	Help: "Domain errors surfaced by command handlers and projectors.",
}, []string{"source", "domain", "error"})

// CountError increments the domain error counter. source identifies the
// process role (rpc, cache, cluster, notify, usage) and dom the aggregate.
func CountError(source, dom string, err error) {
	domainErrors.WithLabelValues(source, dom, string(KindOf(err))).Inc()
}
