package call

import (
	"strings"
	"sync"

	"github.com/harunnryd/callprobe/pkg/scenario"
)

// Coordinator holds the state shared across calls: which scenario and language
// the next call gets, a one-shot manual reply override and the latest OTP.
type Coordinator struct {
	mu              sync.Mutex
	nextScenario    scenario.Scenario
	nextLanguage    string
	defaultLanguage string
	override        string
	hasOverride     bool
	otp             string
}

// CoordinatorState is a point-in-time copy for status endpoints.
type CoordinatorState struct {
	NextScenario    scenario.Scenario `json:"next_scenario"`
	NextLanguage    string            `json:"next_language"`
	OverridePending bool              `json:"override_pending"`
	OTPPending      bool              `json:"otp_pending"`
}

func NewCoordinator(defaultLanguage string) *Coordinator {
	if strings.TrimSpace(defaultLanguage) == "" {
		defaultLanguage = "English"
	}
	return &Coordinator{nextScenario: scenario.Booking, defaultLanguage: defaultLanguage}
}

// Assign returns the scenario and target language for a new call.
func (c *Coordinator) Assign() (scenario.Scenario, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lang := c.nextLanguage
	if lang == "" {
		lang = c.defaultLanguage
	}
	return c.nextScenario, lang
}

// RecordOutcome advances the scenario rotation after a call was graded.
func (c *Coordinator) RecordOutcome(played scenario.Scenario, bookingConfirmed bool) scenario.Scenario {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextScenario = scenario.Next(played, bookingConfirmed)
	return c.nextScenario
}

// SetNextLanguage sets the language for subsequent calls; empty restores the default.
func (c *Coordinator) SetNextLanguage(lang string) {
	c.mu.Lock()
	c.nextLanguage = strings.TrimSpace(lang)
	c.mu.Unlock()
}

// SetOverride replaces the next generated reply. Empty text clears it.
func (c *Coordinator) SetOverride(text string) {
	text = strings.TrimSpace(text)
	c.mu.Lock()
	c.override = text
	c.hasOverride = text != ""
	c.mu.Unlock()
}

// TakeOverride consumes the pending override.
func (c *Coordinator) TakeOverride() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasOverride {
		return "", false
	}
	text := c.override
	c.override = ""
	c.hasOverride = false
	return text, true
}

// SetOTP records a verification code, replacing any earlier one.
func (c *Coordinator) SetOTP(code string) {
	c.mu.Lock()
	c.otp = strings.TrimSpace(code)
	c.mu.Unlock()
}

func (c *Coordinator) PendingOTP() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.otp
}

// ClearOTPIf clears the OTP only if it still equals code, so a newer code
// delivered during generation survives.
func (c *Coordinator) ClearOTPIf(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code == "" || c.otp != code {
		return false
	}
	c.otp = ""
	return true
}

func (c *Coordinator) Snapshot() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	lang := c.nextLanguage
	if lang == "" {
		lang = c.defaultLanguage
	}
	return CoordinatorState{
		NextScenario:    c.nextScenario,
		NextLanguage:    lang,
		OverridePending: c.hasOverride,
		OTPPending:      c.otp != "",
	}
}
