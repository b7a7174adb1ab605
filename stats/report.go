// Package stats computes trip, route and stop statistics from a GTFS
// feed snapshot.
package stats

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"tidbyt.dev/gtfsstats/metrics"
)

// ErrNoShapeDistTraveled is returned by operations that need
// shape_dist_traveled on stop times when the feed has none.
var ErrNoShapeDistTraveled = errors.New("stop times have no shape_dist_traveled")

// Warning kinds.
const (
	WarningNegativeDuration  = "negative_duration"
	WarningNonMonotonicTimes = "non_monotonic_times"
	WarningNonMonotonicDist  = "non_monotonic_dist"
)

// MissingGeometryError reports a trip referencing a shape or stop
// with no geometry. The affected fields are left null.
type MissingGeometryError struct {
	TripID  string
	ShapeID string
	StopID  string
}

func (e *MissingGeometryError) Error() string {
	if e.StopID != "" {
		return fmt.Sprintf("trip '%s': no geometry for stop '%s'", e.TripID, e.StopID)
	}
	return fmt.Sprintf("trip '%s': no geometry for shape '%s'", e.TripID, e.ShapeID)
}

// DataQualityWarning reports suspicious but usable data.
type DataQualityWarning struct {
	TripID string
	Kind   string
	Detail string
}

func (w *DataQualityWarning) Error() string {
	return fmt.Sprintf("trip '%s': %s: %s", w.TripID, w.Kind, w.Detail)
}

// Report collects the per-row issues found during a computation.
// Issues never abort a computation. Safe for concurrent use.
type Report struct {
	mutex  sync.Mutex
	issues []error

	logger  *slog.Logger
	metrics *metrics.Collector
}

func newReport(logger *slog.Logger, m *metrics.Collector) *Report {
	return &Report{logger: logger, metrics: m}
}

func (r *Report) add(err error) {
	r.mutex.Lock()
	r.issues = append(r.issues, err)
	r.mutex.Unlock()

	var mg *MissingGeometryError
	var dq *DataQualityWarning
	switch {
	case errors.As(err, &mg):
		r.metrics.GeometryMiss()
	case errors.As(err, &dq):
		r.metrics.DataQualityWarning(dq.Kind)
	}

	if r.logger != nil {
		r.logger.Debug("stats issue", slog.String("issue", err.Error()))
	}
}

// Issues returns all issues, ordered by message.
func (r *Report) Issues() []error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	issues := append([]error{}, r.issues...)
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Error() < issues[j].Error()
	})
	return issues
}

func (r *Report) MissingGeometry() []*MissingGeometryError {
	out := []*MissingGeometryError{}
	for _, err := range r.Issues() {
		var mg *MissingGeometryError
		if errors.As(err, &mg) {
			out = append(out, mg)
		}
	}
	return out
}

func (r *Report) Warnings() []*DataQualityWarning {
	out := []*DataQualityWarning{}
	for _, err := range r.Issues() {
		var dq *DataQualityWarning
		if errors.As(err, &dq) {
			out = append(out, dq)
		}
	}
	return out
}

func (r *Report) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.issues)
}

// Err joins all issues into a single error, nil if there are none.
func (r *Report) Err() error {
	return errors.Join(r.Issues()...)
}
