package errors_test

import (
	"context"
	"fmt"
	"io"

	"github.com/ajitpratap0/harvester/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypeSourceUnavailable, "failed to connect to warehouse")

	err = err.WithDetail("host", "trino.internal").
		WithDetail("port", 8080)

	fmt.Println(err.Error())

	// Output:
	// source_unavailable: failed to connect to warehouse
}

// ExampleWrap shows how a driver error becomes a per-item failure.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeIntrospection, "failed to read columns").
		WithDetail("fqn", "main.public.orders")

	if errors.IsRecoverable(err) {
		fmt.Println("skip item and continue")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("cause preserved")
	}

	// Output:
	// skip item and continue
	// cause preserved
}

// ExampleIsFatal demonstrates how untyped errors are treated.
func ExampleIsFatal() {
	fmt.Println(errors.IsFatal(context.Canceled))
	fmt.Println(errors.IsFatal(errors.New(errors.ErrorTypeMalformedDescriptor, "table has no name")))
	fmt.Println(errors.IsFatal(nil))

	// Output:
	// true
	// false
	// false
}
