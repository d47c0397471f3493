// Package sketch provides a bounded-memory, mergeable quantile sketch for
// streams of float64 samples.
//
// A Sketch is backed by HDR histograms recorded at two significant digits,
// so every quantile estimate is within 1% of a sample that was actually in
// the stream. Samples are scaled into integer counts by a resolution (the
// smallest distinguishable difference between two samples); samples larger
// than the trackable range are clamped to its upper bound. Negative samples
// are tracked in a mirror histogram that is only allocated when needed.
//
// Merging adds bucket counts, so it is exact, associative and commutative:
// a stream split across any number of sketches and merged back produces the
// same estimates as a single sketch fed the whole stream.
//
// A Sketch is not safe for concurrent use.
package sketch

import (
	"errors"
	"math"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// DefaultResolution records samples in millionths of a unit, e.g.
	// nanosecond resolution for millisecond samples.
	DefaultResolution = 1e-6

	// SignificantFigures bounds the relative error of every estimate.
	SignificantFigures = 2

	// maxCounts is the largest trackable scaled sample. At the default
	// resolution samples up to about 1.15e12 units are kept unclamped, which
	// covers multi-terabyte byte counts and 30-year durations in ms.
	maxCounts = 1 << 60
)

// ErrIncompatible is returned when merging sketches built with different
// resolutions.
var ErrIncompatible = errors.New("sketch: incompatible resolution")

// Sketch summarises a sample stream.
type Sketch struct {
	resolution float64
	pos        *hdrhistogram.Histogram
	neg        *hdrhistogram.Histogram
	zeros      int64
	count      int64
	sum        float64
	min        float64
	max        float64
}

// New returns an empty Sketch with DefaultResolution.
func New() *Sketch {
	return NewWithResolution(DefaultResolution)
}

// NewWithResolution returns an empty Sketch recording samples in multiples
// of resolution. Non-positive resolutions fall back to DefaultResolution.
func NewWithResolution(resolution float64) *Sketch {
	if resolution <= 0 || math.IsNaN(resolution) || math.IsInf(resolution, 0) {
		resolution = DefaultResolution
	}
	return &Sketch{
		resolution: resolution,
		pos:        newHistogram(),
	}
}

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(1, maxCounts, SignificantFigures)
}

// Resolution reports the sample granularity.
func (s *Sketch) Resolution() float64 { return s.resolution }

// MaxTrackable reports the largest sample recorded without clamping.
func (s *Sketch) MaxTrackable() float64 { return float64(maxCounts) * s.resolution }

// Observe adds one sample. NaN samples are ignored.
func (s *Sketch) Observe(v float64) {
	if math.IsNaN(v) {
		return
	}
	scaled := s.scale(v)
	switch {
	case scaled == 0:
		s.zeros++
	case v > 0:
		_ = s.pos.RecordValue(scaled)
	default:
		if s.neg == nil {
			s.neg = newHistogram()
		}
		_ = s.neg.RecordValue(scaled)
	}
	if s.count == 0 {
		s.min, s.max = v, v
	} else {
		s.min = math.Min(s.min, v)
		s.max = math.Max(s.max, v)
	}
	s.count++
	s.sum += v
}

// scale converts a sample into a clamped bucket count. The sign is dropped.
func (s *Sketch) scale(v float64) int64 {
	counts := math.Round(math.Abs(v) / s.resolution)
	if counts >= maxCounts {
		return maxCounts
	}
	return int64(counts)
}

func (s *Sketch) unscale(counts int64) float64 {
	return float64(counts) * s.resolution
}

// Merge folds other into s. other is left untouched.
func (s *Sketch) Merge(other *Sketch) error {
	if other == nil || other.count == 0 {
		return nil
	}
	if other.resolution != s.resolution {
		return ErrIncompatible
	}
	s.pos.Merge(other.pos)
	if other.neg != nil {
		if s.neg == nil {
			s.neg = newHistogram()
		}
		s.neg.Merge(other.neg)
	}
	if s.count == 0 {
		s.min, s.max = other.min, other.max
	} else {
		s.min = math.Min(s.min, other.min)
		s.max = math.Max(s.max, other.max)
	}
	s.zeros += other.zeros
	s.count += other.count
	s.sum += other.sum
	return nil
}

// Quantile estimates the sample at fraction q of the sorted stream, with q
// in [0, 1]. Estimates never decrease as q grows and always fall within
// [Min, Max]. An empty sketch reports 0.
func (s *Sketch) Quantile(q float64) float64 {
	if s.count == 0 || math.IsNaN(q) {
		return 0
	}
	if q <= 0 {
		return s.min
	}
	if q >= 1 {
		return s.max
	}

	var negCount int64
	if s.neg != nil {
		negCount = s.neg.TotalCount()
	}
	// 1-based rank of the requested sample; the epsilon keeps 0.9*10 at 9.
	rank := int64(math.Ceil(q*float64(s.count) - 1e-9))
	if rank < 1 {
		rank = 1
	}

	var v float64
	switch {
	case rank <= negCount:
		// Negatives are stored by magnitude, so the order is reversed.
		frac := float64(negCount-rank+1) / float64(negCount)
		v = -s.unscale(s.neg.ValueAtQuantile(frac * 100))
	case rank <= negCount+s.zeros:
		v = 0
	default:
		frac := float64(rank-negCount-s.zeros) / float64(s.pos.TotalCount())
		v = s.unscale(s.pos.ValueAtQuantile(frac * 100))
	}
	return math.Min(math.Max(v, s.min), s.max)
}

// Count reports the number of samples observed.
func (s *Sketch) Count() int64 { return s.count }

// Sum reports the exact sum of the samples.
func (s *Sketch) Sum() float64 { return s.sum }

// Min reports the exact smallest sample, or 0 when empty.
func (s *Sketch) Min() float64 { return s.min }

// Max reports the exact largest sample, or 0 when empty.
func (s *Sketch) Max() float64 { return s.max }

// Mean reports the exact arithmetic mean, or 0 when empty.
func (s *Sketch) Mean() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

// Reset empties the sketch but keeps its allocated buckets.
func (s *Sketch) Reset() {
	s.pos.Reset()
	if s.neg != nil {
		s.neg.Reset()
	}
	s.zeros = 0
	s.count = 0
	s.sum = 0
	s.min = 0
	s.max = 0
}

// Clone returns an independent copy.
func (s *Sketch) Clone() *Sketch {
	c := NewWithResolution(s.resolution)
	_ = c.Merge(s)
	return c
}
