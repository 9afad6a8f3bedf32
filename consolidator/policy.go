// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"fmt"
	"time"
)

// FailurePolicy determines how the scheduler reacts to a cycle that fails
// with an error the cycle itself could not classify, such as the wallet
// returning data the automation cannot interpret.  Routine RPC failures are
// not subject to the policy: those abort only the cycle they occur in and
// the next scheduled cycle is the retry mechanism.
type FailurePolicy uint8

const (
	// PolicyHalt stops scheduling permanently on the first unclassified
	// cycle failure.  The process then shuts down and requires operator
	// intervention, which fails closed against a misbehaving wallet.
	PolicyHalt FailurePolicy = iota

	// PolicyContinue keeps scheduling after unclassified cycle failures,
	// doubling the delay before each successive retry up to a fixed
	// multiple of the configured interval.
	PolicyContinue
)

// String returns the policy name used on the command line.
func (p FailurePolicy) String() string {
	switch p {
	case PolicyHalt:
		return "halt"
	case PolicyContinue:
		return "continue"
	default:
		return fmt.Sprintf("unknown policy %d", uint8(p))
	}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (p FailurePolicy) MarshalFlag() (string, error) {
	return p.String(), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (p *FailurePolicy) UnmarshalFlag(value string) error {
	switch value {
	case "halt":
		*p = PolicyHalt
	case "continue":
		*p = PolicyContinue
	default:
		return fmt.Errorf("unknown failure policy %q, must be one of "+
			"halt or continue", value)
	}
	return nil
}

// maxBackoffIntervals caps the continue policy's retry delay as a multiple of
// the configured cycle interval.
const maxBackoffIntervals = 10

// backoff returns the delay before the next cycle after the given number of
// consecutive failed cycles under PolicyContinue.  The delay doubles with
// each failure, starting at twice the interval, and is capped at
// maxBackoffIntervals times the interval.
func backoff(interval time.Duration, failures int) time.Duration {
	if failures < 1 {
		return interval
	}
	delay := interval
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= maxBackoffIntervals*interval {
			return maxBackoffIntervals * interval
		}
	}
	return delay
}
