package main

import (
	"context"
	"errors"

	"stackup/internal/graph"
	"stackup/internal/probe"
	"stackup/internal/runtime"
	"stackup/internal/spec"
)

// Exit codes are part of the scripting contract and must stay stable.
const (
	exitOK                 = 0
	exitFailure            = 1
	exitSpecError          = 2
	exitCycleError         = 3
	exitReadinessTimeout   = 4
	exitRuntimeUnavailable = 5
	exitInterrupted        = 130
)

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var (
		specErr  *spec.SpecError
		cycleErr *graph.CycleError
		notReady *probe.ReadinessTimeout
	)
	switch {
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.As(err, &specErr):
		return exitSpecError
	case errors.As(err, &cycleErr):
		return exitCycleError
	case errors.Is(err, runtime.ErrRuntimeUnavailable):
		return exitRuntimeUnavailable
	case errors.As(err, &notReady):
		return exitReadinessTimeout
	default:
		return exitFailure
	}
}
