// Package telemetry exports run metrics in the Prometheus text format, for
// pickup by a node exporter textfile collector.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "coauth"

// Metrics holds the gauges and counters of one process. Each Metrics has
// its own registry so independent runs never share state.
type Metrics struct {
	registry *prometheus.Registry

	// FinalTrainLoss and friends hold the last-epoch metrics per setting.
	FinalTrainLoss *prometheus.GaugeVec
	FinalTrainAcc  *prometheus.GaugeVec
	FinalValLoss   *prometheus.GaugeVec
	FinalValAcc    *prometheus.GaugeVec

	// ThresholdAccuracy and ThresholdValue hold the best threshold search
	// result per setting and mode.
	ThresholdAccuracy *prometheus.GaugeVec
	ThresholdValue    *prometheus.GaugeVec

	// EpochsTotal counts trained epochs.
	// Labels: setting
	EpochsTotal *prometheus.CounterVec

	// RunsTotal counts finished runs.
	// Labels: setting, mode (trained, loaded)
	RunsTotal *prometheus.CounterVec

	// AbsentNodes tracks author occurrences skipped during encoding.
	AbsentNodes *prometheus.GaugeVec
}

// New creates the metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Metrics{
		registry:          reg,
		FinalTrainLoss:    gauge("final_train_loss", "Training loss of the last epoch", "setting"),
		FinalTrainAcc:     gauge("final_train_accuracy", "Training accuracy of the last epoch", "setting"),
		FinalValLoss:      gauge("final_val_loss", "Validation loss of the last epoch", "setting"),
		FinalValAcc:       gauge("final_val_accuracy", "Validation accuracy of the last epoch", "setting"),
		ThresholdAccuracy: gauge("threshold_accuracy", "Best accuracy of the similarity threshold search", "setting", "mode"),
		ThresholdValue:    gauge("threshold_value", "Threshold achieving the best accuracy", "setting", "mode"),
		AbsentNodes:       gauge("absent_nodes", "Author occurrences absent from the embeddings", "setting"),
		EpochsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epochs_total",
			Help:      "Total number of trained epochs",
		}, []string{"setting"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished runs",
		}, []string{"setting", "mode"}),
	}
}

// ObserveFinal records the last-epoch metrics of a setting.
func (m *Metrics) ObserveFinal(setting string, trainLoss, trainAcc, valLoss, valAcc float64) {
	m.FinalTrainLoss.WithLabelValues(setting).Set(trainLoss)
	m.FinalTrainAcc.WithLabelValues(setting).Set(trainAcc)
	m.FinalValLoss.WithLabelValues(setting).Set(valLoss)
	m.FinalValAcc.WithLabelValues(setting).Set(valAcc)
}

// ObserveThreshold records a threshold search result.
func (m *Metrics) ObserveThreshold(setting, mode string, threshold, accuracy float64) {
	m.ThresholdAccuracy.WithLabelValues(setting, mode).Set(accuracy)
	m.ThresholdValue.WithLabelValues(setting, mode).Set(threshold)
}

// WriteTextfile writes all metrics to path atomically. An empty path is a
// no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
