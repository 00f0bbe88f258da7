package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/imgdl/internal/transfer"
	"github.com/danmuck/imgdl/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgdl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the status server.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imgdl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	transfersStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgdl",
			Subsystem: "transfer",
			Name:      "started_total",
			Help:      "BEGIN messages accepted.",
		},
		[]string{"node", "clamped"},
	)
	transfersFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgdl",
			Subsystem: "transfer",
			Name:      "finished_total",
			Help:      "Transfers that reached END, by outcome.",
		},
		[]string{"node", "outcome"},
	)
	chunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgdl",
			Subsystem: "transfer",
			Name:      "chunks_total",
			Help:      "DATA chunks received, by whether they fit the declared length.",
		},
		[]string{"node", "accepted"},
	)
	chunkBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgdl",
			Subsystem: "transfer",
			Name:      "chunk_bytes_total",
			Help:      "Packed bytes written into the receive buffer.",
		},
		[]string{"node"},
	)
	imageBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imgdl",
			Subsystem: "transfer",
			Name:      "image_bytes",
			Help:      "Unpacked size of completed images.",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 10),
		},
		[]string{"node"},
	)
	remoteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgdl",
			Subsystem: "transfer",
			Name:      "remote_errors_total",
			Help:      "ERROR messages reported by the companion.",
		},
		[]string{"node"},
	)
	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgdl",
			Subsystem: "transport",
			Name:      "dropped_total",
			Help:      "Inbound messages dropped by the transport.",
		},
		[]string{"node", "reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			transfersStarted, transfersFinished, chunks, chunkBytes, imageBytes,
			remoteErrors, dropped,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// TransferObserver exports session activity as Prometheus series labelled
// with the receiving node.
type TransferObserver struct {
	node string
}

var _ transfer.Observer = (*TransferObserver)(nil)

func NewTransferObserver(node string) *TransferObserver {
	RegisterMetrics()
	return &TransferObserver{node: node}
}

func (o *TransferObserver) TransferStarted(_ uint32, clamped bool) {
	transfersStarted.WithLabelValues(o.node, strconv.FormatBool(clamped)).Inc()
}

func (o *TransferObserver) ChunkAccepted(n int) {
	chunks.WithLabelValues(o.node, "true").Inc()
	chunkBytes.WithLabelValues(o.node).Add(float64(n))
}

func (o *TransferObserver) ChunkRejected(int) {
	chunks.WithLabelValues(o.node, "false").Inc()
}

func (o *TransferObserver) TransferCompleted(size int) {
	transfersFinished.WithLabelValues(o.node, "complete").Inc()
	imageBytes.WithLabelValues(o.node).Observe(float64(size))
}

func (o *TransferObserver) TransferFailed(reason string) {
	transfersFinished.WithLabelValues(o.node, reason).Inc()
}

func (o *TransferObserver) RemoteError() {
	remoteErrors.WithLabelValues(o.node).Inc()
}

func (o *TransferObserver) MessageDropped(reason transport.Result) {
	dropped.WithLabelValues(o.node, reason.String()).Inc()
}
