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

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type MetricsTest struct {
	suite.Suite
	reader *sdkmetric.ManualReader
	handle Handle
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(MetricsTest))
}

func (t *MetricsTest) SetupTest() {
	t.reader = sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(t.reader))
	h, err := NewOtelHandle(provider.Meter("diskfs-test"))
	require.NoError(t.T(), err)
	t.handle = h
}

func (t *MetricsTest) collect() metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t.T(), t.reader.Collect(context.Background(), &rm))
	return rm
}

func (t *MetricsTest) sumFor(rm metricdata.ResourceMetrics, name string) int64 {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				return total
			}
		}
	}
	t.T().Fatalf("metric %q not found", name)
	return 0
}

func (t *MetricsTest) TestCacheCountersRecordThroughOtel() {
	ctx := context.Background()
	t.handle.CacheHit(ctx, 3)
	t.handle.CacheMiss(ctx, 1)
	t.handle.CacheEviction(ctx, 2)
	t.handle.CacheFlush(ctx, 1)
	t.handle.ReadAheadServed(ctx, 4)

	rm := t.collect()
	t.Equal(int64(3), t.sumFor(rm, "buffer_cache.hits"))
	t.Equal(int64(1), t.sumFor(rm, "buffer_cache.misses"))
	t.Equal(int64(2), t.sumFor(rm, "buffer_cache.evictions"))
	t.Equal(int64(1), t.sumFor(rm, "buffer_cache.flushes"))
	t.Equal(int64(4), t.sumFor(rm, "buffer_cache.read_ahead.served"))
}

func (t *MetricsTest) TestSyscallCountersCarryAttributes() {
	ctx := context.Background()
	attrs := []MetricAttr{{Key: SyscallNameKey, Value: "READ"}}
	t.handle.SyscallCount(ctx, 1, attrs)
	t.handle.SyscallErrorCount(ctx, 1, []MetricAttr{{Key: ErrorCategoryKey, Value: "io"}})
	t.handle.SyscallLatency(ctx, 5*time.Millisecond, attrs)

	rm := t.collect()
	t.Equal(int64(1), t.sumFor(rm, "syscall.count"))
	t.Equal(int64(1), t.sumFor(rm, "syscall.errors"))
}

func (t *MetricsTest) TestInodeCounters() {
	ctx := context.Background()
	t.handle.InodeExtendCount(ctx, 2)
	t.handle.InodeShortWriteCount(ctx, 1)

	rm := t.collect()
	t.Equal(int64(2), t.sumFor(rm, "inode.extends"))
	t.Equal(int64(1), t.sumFor(rm, "inode.short_writes"))
}

func (t *MetricsTest) TestNoopHandleDiscardsEverything() {
	h := NewNoopHandle()
	ctx := context.Background()

	// None of these should panic; there is nothing to assert beyond that,
	// since a noop handle keeps no observable state.
	h.CacheHit(ctx, 1)
	h.CacheMiss(ctx, 1)
	h.CacheEviction(ctx, 1)
	h.CacheFlush(ctx, 1)
	h.ReadAheadServed(ctx, 1)
	h.SyscallCount(ctx, 1, nil)
	h.SyscallLatency(ctx, time.Millisecond, nil)
	h.SyscallErrorCount(ctx, 1, nil)
	h.InodeExtendCount(ctx, 1)
	h.InodeShortWriteCount(ctx, 1)
}
