package errors

import (
	"fmt"
	"testing"
)

// BenchmarkErrorCreationNoReporter tests error creation performance when no reporter is installed
func BenchmarkErrorCreationNoReporter(b *testing.B) {
	SetReporter(nil)

	b.ReportAllocs()

	for b.Loop() {
		err := fmt.Errorf("test error")
		_ = New(err).
			Component("test").
			Category(CategoryGeneric).
			Build()
	}
}

// BenchmarkErrorCreationWithContext tests error creation with context when no reporter is installed
func BenchmarkErrorCreationWithContext(b *testing.B) {
	SetReporter(nil)

	b.ReportAllocs()

	for b.Loop() {
		err := fmt.Errorf("test error")
		_ = New(err).
			Component("test").
			Category(CategoryGeneric).
			Context("operation", "test_op").
			Context("count", 42).
			Build()
	}
}

// BenchmarkErrorCreationWithReporter measures the auto-detect path taken while reporting is active
func BenchmarkErrorCreationWithReporter(b *testing.B) {
	SetReporter(ReporterFunc(func(*EnhancedError) {}))
	b.Cleanup(func() { SetReporter(nil) })

	b.ReportAllocs()

	for b.Loop() {
		err := fmt.Errorf("test error")
		_ = New(err).Build()
	}
}
