// Package metrics emits custom CloudWatch metrics from Lambda using the
// Embedded Metrics Format (EMF): one structured JSON line on stdout that
// CloudWatch Logs extracts into metrics automatically. No API calls, no
// added latency, no cost beyond log ingestion.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitPercent      = "Percent"
)

// metricDef holds the name and unit for a single metric.
type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

// emfDirective is the _aws metadata block required by EMF.
type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

// cwMetric defines a CloudWatch metric namespace, dimensions, and metric definitions.
type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Recorder accumulates dimensions, metrics, and properties for a single EMF
// flush. Fields are kept in insertion order so the emitted document is
// deterministic. Not safe for concurrent use; create one per operation.
type Recorder struct {
	namespace string
	dimKeys   []string
	defs      []metricDef
	fields    map[string]interface{}
	order     []string
}

// New creates an EMF Recorder with the given CloudWatch namespace. The
// FunctionName dimension is added automatically when running inside Lambda.
func New(namespace string) *Recorder {
	r := &Recorder{
		namespace: namespace,
		fields:    make(map[string]interface{}),
	}
	if fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); fn != "" {
		r.Dimension("FunctionName", fn)
	}
	return r
}

// Dimension adds a dimension key-value pair. Dimensions are indexed in
// CloudWatch and appear as filterable attributes on every metric.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimKeys = append(r.dimKeys, key)
	r.set(key, value)
	return r
}

// Metric records a named metric value with a CloudWatch unit.
// Use the Unit* constants.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.defs = append(r.defs, metricDef{Name: name, Unit: unit})
	r.set(name, value)
	return r
}

// Property adds a non-metric field to the EMF document. Properties are
// searchable in CloudWatch Logs Insights but create no metrics (no cost).
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.set(key, value)
	return r
}

func (r *Recorder) set(key string, value interface{}) {
	if _, seen := r.fields[key]; !seen {
		r.order = append(r.order, key)
	}
	r.fields[key] = value
}

// Flush serializes the EMF document as a single JSON line to stdout.
// A Recorder with no metrics flushes nothing. Do not reuse after flushing.
func (r *Recorder) Flush() {
	if len(r.defs) == 0 {
		return
	}

	doc := map[string]interface{}{
		"_aws": emfDirective{
			Timestamp: time.Now().UnixMilli(),
			CloudWatchMetrics: []cwMetric{{
				Namespace:  r.namespace,
				Dimensions: [][]string{r.dimKeys},
				Metrics:    r.defs,
			}},
		},
	}
	for _, k := range r.order {
		doc[k] = r.fields[k]
	}

	data, err := json.Marshal(doc)
	if err != nil {
		// Best-effort: note the failure on stderr and drop the metrics.
		fmt.Fprintf(os.Stderr, "emf: failed to marshal metrics: %v\n", err)
		return
	}

	// EMF must be a single line on stdout.
	fmt.Fprintln(os.Stdout, string(data))
}
