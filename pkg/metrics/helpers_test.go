package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == value {
					return metric.GetCounter().GetValue(), nil
				}
			}
		}
		return 0, fmt.Errorf("metric %q has no %s=%s series", name, label, value)
	}
	return 0, fmt.Errorf("metric %q not found", name)
}

func sampleCount(t interface{ Fatalf(string, ...any) }, h prometheus.Histogram) uint64 {
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}
