// Package testutil holds helpers shared by tests in several packages. Nothing outside
// _test.go files imports it.
package testutil

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// CounterValue reads the current value of the series in cv matching every entry in
// labels. It returns 0 when no such series has been observed.
func CounterValue(cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	var value float64
	for _, dm := range collect(cv) {
		if labelsMatch(dm.GetLabel(), labels) {
			value = dm.GetCounter().GetValue()
		}
	}
	return value
}

// HistogramCount returns the sample count of the series in hv matching labels
func HistogramCount(hv *prometheus.HistogramVec, labels prometheus.Labels) uint64 {
	var count uint64
	for _, dm := range collect(hv) {
		if labelsMatch(dm.GetLabel(), labels) {
			count = dm.GetHistogram().GetSampleCount()
		}
	}
	return count
}

func collect(c prometheus.Collector) []*dto.Metric {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var out []*dto.Metric
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		out = append(out, &dm)
	}
	return out
}

// labelsMatch returns true when all entries in want appear in got
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
