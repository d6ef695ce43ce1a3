// Package metrics wires per-node network counters into Prometheus, mirroring
// the teacher's pkg/consensus/prometheus.go pattern of package-level
// prometheus.NewGaugeVec values registered once via prometheus.MustRegister.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	connectedPeers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "peerkit",
			Name:      "connected_peers",
			Help:      "Number of fully handshaken peers, by node name.",
		},
		[]string{"node"},
	)

	messagesReceived = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "peerkit",
			Name:      "messages_received_total",
			Help:      "Cumulative messages received from initiator-side (dialed) peers, by node name.",
		},
		[]string{"node"},
	)

	messagesSent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "peerkit",
			Name:      "messages_sent_total",
			Help:      "Cumulative messages sent to initiator-side (dialed) peers, by node name.",
		},
		[]string{"node"},
	)
)

var registerOnce = func() func() {
	done := false
	return func() {
		if done {
			return
		}
		prometheus.MustRegister(connectedPeers, messagesReceived, messagesSent)
		done = true
	}
}()

// Register adds the network gauges to Prometheus's default registry. Safe
// to call from more than one Node; registration itself only happens once
// per process.
func Register() {
	registerOnce()
}

// SetConnectedPeers records node's current connected-peer count.
func SetConnectedPeers(node string, n int) {
	connectedPeers.WithLabelValues(node).Set(float64(n))
}

// SetMessagesReceived records node's cumulative received-message count.
func SetMessagesReceived(node string, total uint64) {
	messagesReceived.WithLabelValues(node).Set(float64(total))
}

// SetMessagesSent records node's cumulative sent-message count.
func SetMessagesSent(node string, total uint64) {
	messagesSent.WithLabelValues(node).Set(float64(total))
}
