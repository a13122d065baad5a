package errorsx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonLLMGenerate)
	assert.Equal(t, ReasonLLMGenerate, Reason(err))
	assert.True(t, HasReason(err, ReasonLLMGenerate))
	assert.Equal(t, "boom", err.Error())
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSTTTranscribe)
	second := Wrap(fmt.Errorf("cycle: %w", first), ReasonLLMGenerate)
	assert.Equal(t, ReasonSTTTranscribe, Reason(second))
	assert.True(t, errors.Is(second, assertErr{}))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, ReasonGrading))
	assert.Equal(t, ReasonUnknown, Reason(nil))
	assert.Equal(t, ReasonUnknown, Reason(errors.New("plain")))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestErrorWithoutCause(t *testing.T) {
	err := &Error{Code: ReasonPlaybackAborted}
	assert.Equal(t, "playback_aborted", err.Error())
	assert.Equal(t, ReasonPlaybackAborted, Reason(fmt.Errorf("play: %w", err)))
}
