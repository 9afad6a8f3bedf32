// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	const interval = time.Minute

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{failures: 0, want: interval},
		{failures: 1, want: 2 * interval},
		{failures: 2, want: 4 * interval},
		{failures: 3, want: 8 * interval},
		{failures: 4, want: 10 * interval},
		{failures: 5, want: 10 * interval},
		{failures: 100, want: 10 * interval},
	}

	for _, test := range tests {
		require.Equal(t, test.want, backoff(interval, test.failures),
			"%d failures", test.failures)
	}
}

func TestFailurePolicyFlag(t *testing.T) {
	var policy FailurePolicy
	require.NoError(t, policy.UnmarshalFlag("continue"))
	require.Equal(t, PolicyContinue, policy)

	require.NoError(t, policy.UnmarshalFlag("halt"))
	require.Equal(t, PolicyHalt, policy)

	require.Error(t, policy.UnmarshalFlag("explode"))
	require.Equal(t, PolicyHalt, policy, "failed parse must not change "+
		"the policy")

	marshalled, err := PolicyContinue.MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "continue", marshalled)
}

func TestFailurePolicyString(t *testing.T) {
	require.Equal(t, "halt", PolicyHalt.String())
	require.Equal(t, "continue", PolicyContinue.String())
	require.Contains(t, FailurePolicy(7).String(), "unknown")
}
