package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := New(ErrorTypeConfig, "invalid pattern")
	assert.Equal(t, "config: invalid pattern", err.Error())

	wrapped := Wrap(stderrors.New("boom"), ErrorTypeSink, "accept failed")
	assert.Equal(t, "sink: accept failed: boom", wrapped.Error())
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "nothing"))
}

func TestWrap_PreservesStack(t *testing.T) {
	inner := New(ErrorTypeIntrospection, "bad row")
	outer := Wrap(inner, ErrorTypeSourceUnavailable, "listing aborted")

	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, IsType(outer, ErrorTypeSourceUnavailable))
	assert.Equal(t, ErrorTypeSourceUnavailable, TypeOf(outer))
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"untyped", stderrors.New("plain"), false},
		{"introspection", New(ErrorTypeIntrospection, "x"), true},
		{"malformed", New(ErrorTypeMalformedDescriptor, "x"), true},
		{"config", New(ErrorTypeConfig, "x"), false},
		{"source unavailable", New(ErrorTypeSourceUnavailable, "x"), false},
		{"fmt wrapped introspection", fmt.Errorf("ctx: %w", New(ErrorTypeIntrospection, "x")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRecoverable(tt.err))
			if tt.err != nil {
				assert.Equal(t, !tt.want, IsFatal(tt.err))
			}
		})
	}
}

func TestError_WithDetail(t *testing.T) {
	err := New(ErrorTypeIntrospection, "bad column").
		WithDetail("fqn", "main.public.orders").
		WithDetail("column", 3)

	assert.Equal(t, "main.public.orders", err.Details["fqn"])
	assert.Equal(t, 3, err.Details["column"])
}
