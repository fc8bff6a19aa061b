package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"encoding", Encoding("bad length %d", 31), ErrEncoding},
		{"crypto", Crypto("tag"), ErrCrypto},
		{"mismatch", Mismatch("hmac"), ErrCommitmentMismatch},
		{"protocol", Protocol("missing field"), ErrProtocol},
		{"invalid state", InvalidState("not ready"), ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.kind)
			assert.Equal(t, tt.kind, Kind(tt.err))

			wrapped := fmt.Errorf("failed to process: %w", tt.err)
			assert.Equal(t, tt.kind, Kind(wrapped))
		})
	}

	assert.Nil(t, Kind(errors.New("plain")))
}

func TestAtStep(t *testing.T) {
	assert.NoError(t, AtStep("init", nil))

	err := AtStep("set_input_ack[0]", Mismatch("vini hmac"))
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "set_input_ack[0]", se.Step)
	assert.ErrorIs(t, err, ErrCommitmentMismatch)
	assert.Contains(t, err.Error(), "set_input_ack[0]")

	again := AtStep("outer", err)
	require.ErrorAs(t, again, &se)
	assert.Equal(t, "set_input_ack[0]", se.Step)
}
