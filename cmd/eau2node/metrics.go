package main

import (
	"net/http"

	"github.com/eau2/eau2/pkg/log"
	"github.com/eau2/eau2/pkg/node"
)

// serveMetrics runs the node's Prometheus handler on addr until the
// process exits; errors are logged, not fatal, since metrics are
// ambient observability (§1's AMBIENT STACK), not part of the KV contract.
func serveMetrics(n *node.Node, addr string, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", n.Metrics().Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "err", err)
	}
}
