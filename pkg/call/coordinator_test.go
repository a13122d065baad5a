package call

import (
	"testing"

	"github.com/harunnryd/callprobe/pkg/scenario"
	"github.com/stretchr/testify/assert"
)

func TestCoordinatorScenarioRotation(t *testing.T) {
	c := NewCoordinator("")
	scn, lang := c.Assign()
	assert.Equal(t, scenario.Booking, scn)
	assert.Equal(t, "English", lang)

	assert.Equal(t, scenario.Booking, c.RecordOutcome(scenario.Booking, false))
	assert.Equal(t, scenario.Cancellation, c.RecordOutcome(scenario.Booking, true))
	scn, _ = c.Assign()
	assert.Equal(t, scenario.Cancellation, scn)
	assert.Equal(t, scenario.Booking, c.RecordOutcome(scenario.Cancellation, false))
}

func TestCoordinatorLanguageIsSticky(t *testing.T) {
	c := NewCoordinator("English")
	c.SetNextLanguage(" Spanish ")
	_, lang := c.Assign()
	assert.Equal(t, "Spanish", lang)
	_, lang = c.Assign()
	assert.Equal(t, "Spanish", lang)

	c.SetNextLanguage("")
	_, lang = c.Assign()
	assert.Equal(t, "English", lang)
}

func TestCoordinatorOverrideConsumedOnce(t *testing.T) {
	c := NewCoordinator("English")
	_, ok := c.TakeOverride()
	assert.False(t, ok)

	c.SetOverride("first")
	c.SetOverride("Tuesday morning works")
	assert.True(t, c.Snapshot().OverridePending)
	text, ok := c.TakeOverride()
	assert.True(t, ok)
	assert.Equal(t, "Tuesday morning works", text)
	_, ok = c.TakeOverride()
	assert.False(t, ok)

	c.SetOverride("x")
	c.SetOverride("  ")
	_, ok = c.TakeOverride()
	assert.False(t, ok)
}

func TestCoordinatorOTPClearedOnlyIfUnchanged(t *testing.T) {
	c := NewCoordinator("English")
	c.SetOTP("123456")
	seen := c.PendingOTP()
	c.SetOTP("654321")

	assert.False(t, c.ClearOTPIf(seen))
	assert.Equal(t, "654321", c.PendingOTP())
	assert.True(t, c.ClearOTPIf("654321"))
	assert.Empty(t, c.PendingOTP())
	assert.False(t, c.ClearOTPIf(""))
	assert.False(t, c.Snapshot().OTPPending)
}
