package hostcall

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-fiber/errors"
)

// FaultPolicy decides how a failed host operation surfaces.
type FaultPolicy uint8

const (
	// FaultInvocation fails the invocation with a host failure.
	FaultInvocation FaultPolicy = iota
	// FaultTrap fails the invocation with a trap caused by the host error.
	FaultTrap
	// FaultFatal fails the invocation and marks the error fatal, so the
	// driver reports it to the scheduler.
	FaultFatal
)

func (p FaultPolicy) String() string {
	switch p {
	case FaultInvocation:
		return "invocation"
	case FaultTrap:
		return "trap"
	case FaultFatal:
		return "fatal"
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

// ParsePolicy parses "invocation", "trap" or "fatal". An empty string is
// FaultInvocation.
func ParsePolicy(s string) (FaultPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "invocation":
		return FaultInvocation, nil
	case "trap":
		return FaultTrap, nil
	case "fatal":
		return FaultFatal, nil
	}
	return FaultInvocation, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown fault policy %q", s))
}
