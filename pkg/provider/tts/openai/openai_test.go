package openai

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	oai "github.com/openai/openai-go"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/provider/tts"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()
	p, _ := New("sk-test")

	params := p.buildParams("Hello", tts.Voice{})
	if params.Input != "Hello" {
		t.Errorf("input = %q", params.Input)
	}
	if string(params.Voice) != defaultVoice {
		t.Errorf("voice = %q, want %q", params.Voice, defaultVoice)
	}
	if params.ResponseFormat != oai.AudioSpeechNewParamsResponseFormatPCM {
		t.Errorf("response format = %q", params.ResponseFormat)
	}
	if string(params.Model) != defaultModel {
		t.Errorf("model = %q", params.Model)
	}

	tuned := p.buildParams("Hi", tts.Voice{ID: "verse", Speed: 1.25, Instructions: "calm"})
	if string(tuned.Voice) != "verse" {
		t.Errorf("voice = %q", tuned.Voice)
	}
	if tuned.Speed.Value != 1.25 {
		t.Errorf("speed = %v", tuned.Speed.Value)
	}
	if tuned.Instructions.Value != "calm" {
		t.Errorf("instructions = %q", tuned.Instructions.Value)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	p, _ := New("sk-test")
	if p.Format() != audio.Wire {
		t.Errorf("format = %+v", p.Format())
	}
}

func TestSynthesizeStream(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		inputs []string
	)
	pcm := make([]byte, chunkBytes+3)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Input          string `json:"input"`
			ResponseFormat string `json:"response_format"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ResponseFormat != "pcm" {
			http.Error(w, "bad format", http.StatusBadRequest)
			return
		}
		mu.Lock()
		inputs = append(inputs, body.Input)
		mu.Unlock()
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(pcm)
	}))
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatal(err)
	}

	text := make(chan string, 3)
	text <- "Hello"
	text <- "   "
	text <- "there"
	close(text)

	out, err := p.SynthesizeStream(t.Context(), text, tts.Voice{ID: "alloy"})
	if err != nil {
		t.Fatal(err)
	}
	var total int
	for chunk := range out {
		if len(chunk)%2 != 0 {
			t.Fatalf("chunk of %d bytes splits a sample", len(chunk))
		}
		total += len(chunk)
	}

	// Each response drops its odd trailing byte.
	if want := 2 * (len(pcm) - 1); total != want {
		t.Errorf("total bytes = %d, want %d", total, want)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(inputs) != 2 || inputs[0] != "Hello" || inputs[1] != "there" {
		t.Errorf("inputs = %q", inputs)
	}
}

func TestSynthesizeStream_ServerErrorClosesChannel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New("sk-test", WithBaseURL(srv.URL+"/v1/"))
	out, err := p.SynthesizeStream(t.Context(), tts.Text("Hello"), tts.Voice{})
	if err != nil {
		t.Fatal(err)
	}
	for chunk := range out {
		t.Errorf("unexpected chunk of %d bytes", len(chunk))
	}
}

func TestSynthesizeStream_NilText(t *testing.T) {
	t.Parallel()
	p, _ := New("sk-test")
	if _, err := p.SynthesizeStream(t.Context(), nil, tts.Voice{}); err == nil {
		t.Fatal("expected error for nil text channel")
	}
}
