package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/novalive/pkg/provider/speech"
	"google.golang.org/genai"
)

func audioResponse(data []byte, mimeType string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "ignored"},
				{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}},
			}},
		}},
	}
}

// newFake returns a Synthesizer whose SDK call is replaced by fn.
func newFake(fn generateFunc, opts ...Option) *Synthesizer {
	s := New("test-key", opts...)
	s.generate = fn
	return s
}

func TestSynthesize_BuildsRequest(t *testing.T) {
	t.Parallel()
	var (
		gotModel string
		gotText  string
		gotVoice string
		gotMods  []string
	)
	s := newFake(func(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		gotModel = model
		gotText = contents[0].Parts[0].Text
		gotVoice = cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName
		gotMods = cfg.ResponseModalities
		return audioResponse([]byte{1, 0, 2, 0}, "audio/L16;codec=pcm;rate=24000"), nil
	}, WithModel("tts-model"))

	res, err := s.Synthesize(context.Background(), speech.Request{Text: "hello there", Voice: "Puck"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotModel != "tts-model" {
		t.Errorf("model = %q", gotModel)
	}
	if gotText != "Say this naturally: hello there" {
		t.Errorf("prompt = %q", gotText)
	}
	if gotVoice != "Puck" {
		t.Errorf("voice = %q, want Puck", gotVoice)
	}
	if len(gotMods) != 1 || gotMods[0] != "AUDIO" {
		t.Errorf("modalities = %v", gotMods)
	}
	if len(res.PCM) != 4 || res.SampleRate != 24000 {
		t.Errorf("result = %+v", res)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	t.Parallel()
	var gotVoice string
	s := newFake(func(_ context.Context, _ string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		gotVoice = cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName
		return audioResponse([]byte{0, 0}, "audio/pcm"), nil
	})
	if _, err := s.Synthesize(context.Background(), speech.Request{Text: "hi"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotVoice != DefaultVoice {
		t.Errorf("voice = %q, want %q", gotVoice, DefaultVoice)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()
	errBackend := errors.New("quota exceeded")
	tests := []struct {
		name    string
		req     speech.Request
		resp    *genai.GenerateContentResponse
		err     error
		wantErr error
	}{
		{name: "blank text", req: speech.Request{Text: "  "}, wantErr: speech.ErrEmptyText},
		{name: "unknown voice", req: speech.Request{Text: "hi", Voice: "Robot"}, wantErr: speech.ErrUnknownVoice},
		{name: "no audio", req: speech.Request{Text: "hi"}, resp: &genai.GenerateContentResponse{}, wantErr: speech.ErrNoAudio},
		{name: "backend", req: speech.Request{Text: "hi"}, err: errBackend, wantErr: errBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			s := newFake(func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				calls++
				return tt.resp, tt.err
			})
			_, err := s.Synthesize(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if (tt.wantErr == speech.ErrEmptyText || tt.wantErr == speech.ErrUnknownVoice) && calls != 0 {
				t.Errorf("backend called %d times for a rejected request", calls)
			}
		})
	}
}

func TestRateFromMIME(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]int{
		"audio/L16;codec=pcm;rate=24000": 24000,
		"audio/pcm;rate=16000":           16000,
		"audio/pcm":                      DefaultSampleRate,
		"audio/pcm;rate=abc":             DefaultSampleRate,
		"":                               DefaultSampleRate,
	} {
		if got := RateFromMIME(in); got != want {
			t.Errorf("RateFromMIME(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestVoices_ReturnsCopy(t *testing.T) {
	t.Parallel()
	s := New("k", WithVoices("Puck", []string{"Puck"}))
	v := s.Voices()
	v[0] = "changed"
	if got := s.Voices(); strings.Join(got, ",") != "Puck" {
		t.Errorf("Voices() = %v", got)
	}
}
