// Package call runs the per-call turn-taking loop: it gates inbound audio by
// loudness, detects turn boundaries, drives one transcription/reply cycle at a
// time and tears the call down with a graded report.
package call

import "time"

// Config holds the turn-taking thresholds. Zero values take the defaults below.
type Config struct {
	SampleRate int
	// LoudnessThreshold is the RMS (int16 units) above which a frame counts as speech.
	LoudnessThreshold float64
	// PreSpeechMaxFrames bounds the buffer before anyone spoke; on overflow it is
	// trimmed to the last PreSpeechTailFrames.
	PreSpeechMaxFrames  int
	PreSpeechTailFrames int
	// MaxSpeechFrames bounds one utterance below the STT provider's input limit.
	MaxSpeechFrames    int
	BoundaryDelay      time.Duration
	WatchdogInitial    time.Duration
	WatchdogPostReply  time.Duration
	MinTranscriptChars int
	TeardownPoll       time.Duration
	TeardownMaxWait    time.Duration
	HangupTimeout      time.Duration
	DefaultLanguage    string
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.LoudnessThreshold <= 0 {
		c.LoudnessThreshold = 600
	}
	if c.PreSpeechMaxFrames <= 0 {
		c.PreSpeechMaxFrames = 50
	}
	if c.PreSpeechTailFrames <= 0 {
		c.PreSpeechTailFrames = 10
	}
	if c.PreSpeechTailFrames > c.PreSpeechMaxFrames {
		c.PreSpeechTailFrames = c.PreSpeechMaxFrames
	}
	if c.MaxSpeechFrames <= 0 {
		c.MaxSpeechFrames = 1400
	}
	if c.BoundaryDelay <= 0 {
		c.BoundaryDelay = 1500 * time.Millisecond
	}
	if c.WatchdogInitial <= 0 {
		c.WatchdogInitial = 45 * time.Second
	}
	if c.WatchdogPostReply <= 0 {
		c.WatchdogPostReply = 20 * time.Second
	}
	if c.MinTranscriptChars <= 0 {
		c.MinTranscriptChars = 2
	}
	if c.TeardownPoll <= 0 {
		c.TeardownPoll = 100 * time.Millisecond
	}
	if c.TeardownMaxWait <= 0 {
		c.TeardownMaxWait = 15 * time.Second
	}
	if c.HangupTimeout <= 0 {
		c.HangupTimeout = 10 * time.Second
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "English"
	}
	return c
}
