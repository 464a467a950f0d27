package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Example_basicUsage demonstrates updating pool and server metrics.
func Example_basicUsage() {
	registry := NewRegistry(prometheus.NewRegistry())

	registry.TasksSubmitted.WithLabelValues("http").Add(3)
	registry.TasksDropped.WithLabelValues("http").Inc()
	registry.RequestsTotal.WithLabelValues("http", "404").Inc()

	fmt.Println(testutil.ToFloat64(registry.TasksSubmitted.WithLabelValues("http")))
	fmt.Println(testutil.ToFloat64(registry.RequestsTotal.WithLabelValues("http", "404")))

	// Output:
	// 3
	// 1
}

// Example_customNamespace demonstrates a namespace and constant labels.
func Example_customNamespace() {
	reg := prometheus.NewRegistry()
	registry := NewRegistryWithConfig(Config{
		Enabled:   true,
		Registry:  reg,
		Namespace: "edge",
		Labels:    prometheus.Labels{"instance": "a"},
	})
	registry.WorkerPoolSize.WithLabelValues("http").Set(4)

	families, _ := reg.Gather()
	for _, mf := range families {
		if mf.GetName() == "edge_workerpool_size" {
			fmt.Println(mf.GetName(), mf.GetMetric()[0].GetGauge().GetValue())
		}
	}

	// Output: edge_workerpool_size 4
}
