package vmerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{fmt.Errorf("assert.eq r0 r1: %w", ErrAssertionFailed), KindAssertionFailed},
		{fmt.Errorf("add: %w", ErrTypeOrRange), KindTypeOrRange},
		{fmt.Errorf("get: %w", ErrUnresolvedTarget), KindUnresolvedTarget},
		{fmt.Errorf("call: %w", ErrUnconsumedFuture), KindUnconsumedFuture},
		{fmt.Errorf("meter: %w", ErrGasExceeded), KindGasExceeded},
		{fmt.Errorf("await: %w", ErrMalformedFutureWiring), KindMalformedFutureWiring},
		{fmt.Errorf("revert: %w", ErrOverlayCorrupted), KindFatal},
		{fmt.Errorf("get: %w: disk read error", ErrStore), KindFatal},
		{fmt.Errorf("%w: panic: boom", ErrInternal), KindFatal},
		{errors.New("disk on fire"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
			fatal := tt.want == KindFatal || tt.want == KindUnknown
			assert.Equal(t, fatal, IsFatal(tt.err))
		})
	}
}

func TestGasTakesPrecedence(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrGasExceeded, ErrTypeOrRange)
	assert.Equal(t, KindGasExceeded, Classify(err))
}

func TestStoreFailureOutranksUserKind(t *testing.T) {
	err := fmt.Errorf("get.or_use: %w", fmt.Errorf("%w: %w", ErrStore, ErrTypeOrRange))
	assert.Equal(t, KindFatal, Classify(err))
	assert.True(t, IsFatal(err))
}
