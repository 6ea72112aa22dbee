package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "neurai_pacs"

// Association outcomes
const (
	AssociationEstablished = "established"
	AssociationRejected    = "rejected"
	AssociationFailed      = "failed"
)

// Stored object results
const (
	StoreSuccess      = "success"
	StoreDecodeError  = "decode_error"
	StoreIOError      = "io_error"
	StorePersistError = "persist_error"
)

// Collectors groups the PACS client metrics. A nil *Collectors is valid and
// records nothing.
type Collectors struct {
	associations  *prometheus.CounterVec
	operations    *prometheus.CounterVec
	storedObjects *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg when it is not nil.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		associations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "associations_total",
			Help:      "DICOM associations attempted, by outcome.",
		}, []string{"outcome"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "PACS operations, by operation and result.",
		}, []string{"operation", "result"}),
		storedObjects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stored_objects_total",
			Help:      "Objects received over C-STORE, by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of PACS operations.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"operation"}),
	}

	if reg != nil {
		reg.MustRegister(c.associations, c.operations, c.storedObjects, c.duration)
	}
	return c
}

// Association records an association attempt.
func (c *Collectors) Association(outcome string) {
	if c == nil {
		return
	}
	c.associations.WithLabelValues(outcome).Inc()
}

// Operation records a finished operation and its duration.
func (c *Collectors) Operation(operation string, err error, d time.Duration) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.operations.WithLabelValues(operation, result).Inc()
	c.duration.WithLabelValues(operation).Observe(d.Seconds())
}

// StoredObject records one C-STORE sub-operation.
func (c *Collectors) StoredObject(result string) {
	if c == nil {
		return
	}
	c.storedObjects.WithLabelValues(result).Inc()
}

// WriteTextfile writes every metric gathered by g in the node exporter
// textfile format.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	return prometheus.WriteToTextfile(path, g)
}
