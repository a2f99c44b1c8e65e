// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-zkauth.
//
// go-zkauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsEnabled(t *testing.T) {
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled by default")
	}

	Disable()
	if IsEnabled() {
		t.Error("Expected metrics to be disabled after Disable()")
	}

	Enable()
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled after Enable()")
	}
}

func TestRecordOperation(t *testing.T) {
	Enable()
	OperationsTotal.Reset()
	OperationDuration.Reset()

	RecordOperation(OpRequestLink, StatusSuccess, 0.05)
	if count := testutil.CollectAndCount(OperationsTotal); count != 1 {
		t.Errorf("Expected 1 operation series, got %d", count)
	}
	if count := testutil.CollectAndCount(OperationDuration); count != 1 {
		t.Errorf("Expected 1 histogram series, got %d", count)
	}

	RecordOperation(OpRefresh, StatusError, 0.1)
	if count := testutil.CollectAndCount(OperationsTotal); count != 2 {
		t.Errorf("Expected 2 operation series, got %d", count)
	}

	got := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpRequestLink, StatusSuccess))
	if got != 1 {
		t.Errorf("Expected request_link success count 1, got %v", got)
	}
}

func TestRecordOperationWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()
	OperationsTotal.Reset()

	RecordOperation(OpRotate, StatusSuccess, 0.5)
	if count := testutil.CollectAndCount(OperationsTotal); count != 0 {
		t.Errorf("Expected 0 operations when disabled, got %d", count)
	}
}

func TestStatus(t *testing.T) {
	if Status(nil) != StatusSuccess {
		t.Error("Expected success for nil error")
	}
	if Status(errors.New("boom")) != StatusError {
		t.Error("Expected error for non-nil error")
	}
}

func TestRecordRejection(t *testing.T) {
	Enable()
	RejectionsTotal.Reset()

	RecordRejection("access_expired")
	RecordRejection("access_expired")
	RecordRejection("")

	if got := testutil.ToFloat64(RejectionsTotal.WithLabelValues("access_expired")); got != 2 {
		t.Errorf("Expected 2 access_expired rejections, got %v", got)
	}
	if count := testutil.CollectAndCount(RejectionsTotal); count != 1 {
		t.Errorf("Expected empty codes to be ignored, got %d series", count)
	}
}

func TestRecordSessionClear(t *testing.T) {
	Enable()
	SessionClearsTotal.Reset()

	RecordSessionClear(ClearPreventive)
	RecordSessionClear(ClearSensitive)
	RecordSessionClear(ClearSensitive)

	if got := testutil.ToFloat64(SessionClearsTotal.WithLabelValues(ClearSensitive)); got != 2 {
		t.Errorf("Expected 2 sensitive clears, got %v", got)
	}
}

func TestRecordSignatureFailureAndStorageWarning(t *testing.T) {
	Enable()
	SignatureFailuresTotal.Reset()

	before := testutil.ToFloat64(StorageWarningsTotal)
	RecordStorageWarning()
	if got := testutil.ToFloat64(StorageWarningsTotal); got != before+1 {
		t.Errorf("Expected storage warnings to increase by 1, got %v -> %v", before, got)
	}

	RecordSignatureFailure(OpResource)
	if got := testutil.ToFloat64(SignatureFailuresTotal.WithLabelValues(OpResource)); got != 1 {
		t.Errorf("Expected 1 signature failure, got %v", got)
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	Enable()
	OperationsTotal.Reset()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordOperation(OpResource, StatusSuccess, 0.01)
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpResource, StatusSuccess)); got != 50 {
		t.Errorf("Expected 50 operations, got %v", got)
	}
}

func BenchmarkRecordOperation(b *testing.B) {
	Enable()
	for i := 0; i < b.N; i++ {
		RecordOperation(OpResource, StatusSuccess, 0.001)
	}
}
