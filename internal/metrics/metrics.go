// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics defines the kernel's metric surface: buffer-cache
// hit/miss/eviction/flush counts, and syscall-dispatch counts and
// latencies, recorded through an OpenTelemetry metric.Meter and exported
// to Prometheus.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricAttr is a single metric label, mirroring the attribute shape used
// throughout the kernel's telemetry calls.
type MetricAttr struct {
	Key, Value string
}

func toAttrs(attrs []MetricAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, attribute.String(a.Key, a.Value))
	}
	return out
}

// CacheMetricHandle records buffer-cache activity.
type CacheMetricHandle interface {
	CacheHit(ctx context.Context, inc int64)
	CacheMiss(ctx context.Context, inc int64)
	CacheEviction(ctx context.Context, inc int64)
	CacheFlush(ctx context.Context, inc int64)
	ReadAheadServed(ctx context.Context, inc int64)
}

// SyscallMetricHandle records syscall-dispatch activity.
type SyscallMetricHandle interface {
	SyscallCount(ctx context.Context, inc int64, attrs []MetricAttr)
	SyscallLatency(ctx context.Context, latency time.Duration, attrs []MetricAttr)
	SyscallErrorCount(ctx context.Context, inc int64, attrs []MetricAttr)
}

// InodeMetricHandle records inode-layer activity.
type InodeMetricHandle interface {
	InodeExtendCount(ctx context.Context, inc int64)
	InodeShortWriteCount(ctx context.Context, inc int64)
}

// Handle bundles every metric surface the kernel records.
type Handle interface {
	CacheMetricHandle
	SyscallMetricHandle
	InodeMetricHandle
}

const (
	// SyscallNameKey annotates the syscall handled (e.g. "READ", "WRITE").
	SyscallNameKey = "syscall"
	// ErrorCategoryKey annotates a syscall error's category.
	ErrorCategoryKey = "error_category"
)

var defaultLatencyBuckets = metric.WithExplicitBucketBoundaries(
	1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 144, 233, 377, 610, 987, 1597, 2584,
)

// otelHandle is the production Handle, backed by an otel Meter.
type otelHandle struct {
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	cacheEvicts   metric.Int64Counter
	cacheFlushes  metric.Int64Counter
	readAheadHits metric.Int64Counter

	syscallCount   metric.Int64Counter
	syscallLatency metric.Float64Histogram
	syscallErrors  metric.Int64Counter

	inodeExtends    metric.Int64Counter
	inodeShortWrite metric.Int64Counter
}

// NewOtelHandle builds a Handle that records through meter.
func NewOtelHandle(meter metric.Meter) (Handle, error) {
	h := &otelHandle{}
	var err error

	if h.cacheHits, err = meter.Int64Counter("buffer_cache.hits"); err != nil {
		return nil, err
	}
	if h.cacheMisses, err = meter.Int64Counter("buffer_cache.misses"); err != nil {
		return nil, err
	}
	if h.cacheEvicts, err = meter.Int64Counter("buffer_cache.evictions"); err != nil {
		return nil, err
	}
	if h.cacheFlushes, err = meter.Int64Counter("buffer_cache.flushes"); err != nil {
		return nil, err
	}
	if h.readAheadHits, err = meter.Int64Counter("buffer_cache.read_ahead.served"); err != nil {
		return nil, err
	}
	if h.syscallCount, err = meter.Int64Counter("syscall.count"); err != nil {
		return nil, err
	}
	if h.syscallLatency, err = meter.Float64Histogram(
		"syscall.latency_ms", metric.WithUnit("ms"), defaultLatencyBuckets); err != nil {
		return nil, err
	}
	if h.syscallErrors, err = meter.Int64Counter("syscall.errors"); err != nil {
		return nil, err
	}
	if h.inodeExtends, err = meter.Int64Counter("inode.extends"); err != nil {
		return nil, err
	}
	if h.inodeShortWrite, err = meter.Int64Counter("inode.short_writes"); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *otelHandle) CacheHit(ctx context.Context, inc int64)      { h.cacheHits.Add(ctx, inc) }
func (h *otelHandle) CacheMiss(ctx context.Context, inc int64)     { h.cacheMisses.Add(ctx, inc) }
func (h *otelHandle) CacheEviction(ctx context.Context, inc int64) { h.cacheEvicts.Add(ctx, inc) }
func (h *otelHandle) CacheFlush(ctx context.Context, inc int64)    { h.cacheFlushes.Add(ctx, inc) }
func (h *otelHandle) ReadAheadServed(ctx context.Context, inc int64) {
	h.readAheadHits.Add(ctx, inc)
}

func (h *otelHandle) SyscallCount(ctx context.Context, inc int64, attrs []MetricAttr) {
	h.syscallCount.Add(ctx, inc, metric.WithAttributes(toAttrs(attrs)...))
}

func (h *otelHandle) SyscallLatency(ctx context.Context, latency time.Duration, attrs []MetricAttr) {
	h.syscallLatency.Record(ctx, float64(latency.Microseconds())/1000.0, metric.WithAttributes(toAttrs(attrs)...))
}

func (h *otelHandle) SyscallErrorCount(ctx context.Context, inc int64, attrs []MetricAttr) {
	h.syscallErrors.Add(ctx, inc, metric.WithAttributes(toAttrs(attrs)...))
}

func (h *otelHandle) InodeExtendCount(ctx context.Context, inc int64) {
	h.inodeExtends.Add(ctx, inc)
}

func (h *otelHandle) InodeShortWriteCount(ctx context.Context, inc int64) {
	h.inodeShortWrite.Add(ctx, inc)
}

// noopHandle discards everything; used when the kernel boots without a
// configured meter provider (e.g. in unit tests).
type noopHandle struct{}

// NewNoopHandle returns a Handle that discards all measurements.
func NewNoopHandle() Handle { return noopHandle{} }

func (noopHandle) CacheHit(context.Context, int64)                          {}
func (noopHandle) CacheMiss(context.Context, int64)                         {}
func (noopHandle) CacheEviction(context.Context, int64)                     {}
func (noopHandle) CacheFlush(context.Context, int64)                        {}
func (noopHandle) ReadAheadServed(context.Context, int64)                   {}
func (noopHandle) SyscallCount(context.Context, int64, []MetricAttr)        {}
func (noopHandle) SyscallLatency(context.Context, time.Duration, []MetricAttr) {}
func (noopHandle) SyscallErrorCount(context.Context, int64, []MetricAttr)   {}
func (noopHandle) InodeExtendCount(context.Context, int64)                  {}
func (noopHandle) InodeShortWriteCount(context.Context, int64)              {}
