package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/harunnryd/callprobe/pkg/adapters/stt"
	"github.com/harunnryd/callprobe/pkg/adapters/tts"
	"github.com/harunnryd/callprobe/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMScriptThenFallback(t *testing.T) {
	a := NewLLMAdapter(LLMConfig{ResponseText: "fallback"})
	a.Enqueue("first", nil)
	a.Enqueue("", errors.New("boom"))

	resp, err := a.Generate(context.Background(), llm.Context{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Text)

	_, err = a.Generate(context.Background(), llm.Context{})
	require.Error(t, err)

	resp, err = a.Generate(context.Background(), llm.Context{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Text)

	resp, err = a.Generate(context.Background(), llm.Context{JSON: true})
	require.NoError(t, err)
	assert.Equal(t, DefaultJSON, resp.Text)
	assert.Len(t, a.Inputs(), 4)
}

func TestLLMRespondHandler(t *testing.T) {
	a := NewLLMAdapter(LLMConfig{})
	a.Respond(func(in llm.Context) (llm.Response, bool, error) {
		if in.JSON {
			return llm.Response{Text: "{}"}, true, nil
		}
		return llm.Response{}, false, nil
	})
	resp, _ := a.Generate(context.Background(), llm.Context{JSON: true})
	assert.Equal(t, "{}", resp.Text)
	resp, _ = a.Generate(context.Background(), llm.Context{})
	assert.Equal(t, "mock response", resp.Text)
}

func TestTranscriberScript(t *testing.T) {
	tr := NewSTT(STTConfig{Transcript: "default"})
	tr.Enqueue(stt.Result{Text: "hello", LanguageCode: "hi"}, nil)

	res, err := tr.Transcribe(context.Background(), stt.Request{Audio: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)

	res, err = tr.Transcribe(context.Background(), stt.Request{Audio: []byte{2}})
	require.NoError(t, err)
	assert.Equal(t, "default", res.Text)
	assert.Equal(t, "en", res.LanguageCode)
	assert.Len(t, tr.Requests(), 2)
}

func TestTranscriberHoldRespectsContext(t *testing.T) {
	tr := NewSTT(STTConfig{})
	release := tr.Hold()
	defer release()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Transcribe(ctx, stt.Request{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSynthesizerLength(t *testing.T) {
	s := NewTTS(TTSConfig{MillisPerChar: 10})
	out, err := s.Synthesize(context.Background(), tts.Request{Text: "abcd"})
	require.NoError(t, err)
	// 4 chars * 10ms at 8kHz = 320 samples
	assert.Len(t, out.Data, 640)
	assert.Equal(t, 8000, out.SampleRate)
}
