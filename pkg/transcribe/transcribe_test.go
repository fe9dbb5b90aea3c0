package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/teslashibe/go-voicebridge/internal/log"
	"github.com/teslashibe/go-voicebridge/pkg/inference"
)

type stubTranscriber struct {
	text  string
	err   error
	calls atomic.Int32
}

func (s *stubTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	s.calls.Add(1)
	return s.text, s.err
}

type stubClassifier struct {
	intent Intent
	err    error
	calls  int
}

func (s *stubClassifier) Classify(ctx context.Context, text string, assistantTalking bool) (Intent, error) {
	s.calls++
	return s.intent, s.err
}

func TestHTTPTranscriber(t *testing.T) {
	pcm := []byte{1, 0, 2, 0}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var body struct {
			Audio      string `json:"audio"`
			SampleRate int    `json:"sample_rate"`
			Format     string `json:"format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		raw, _ := base64.StdEncoding.DecodeString(body.Audio)
		if string(raw) != string(pcm) {
			t.Errorf("audio = %v, want %v", raw, pcm)
		}
		if body.SampleRate != 24000 || body.Format != "pcm16" {
			t.Errorf("sample_rate=%d format=%q", body.SampleRate, body.Format)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  hola, necesito ayuda  "}`))
	}))
	defer server.Close()

	tr, err := NewHTTPTranscriber(server.URL, "secret", log.Discard())
	if err != nil {
		t.Fatalf("NewHTTPTranscriber: %v", err)
	}
	text, err := tr.Transcribe(context.Background(), pcm, 24000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hola, necesito ayuda" {
		t.Errorf("text = %q", text)
	}
}

func TestHTTPTranscriberErrors(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		if _, err := NewHTTPTranscriber("", "", nil); !errors.Is(err, ErrMissingURL) {
			t.Errorf("err = %v, want ErrMissingURL", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		defer server.Close()

		tr, _ := NewHTTPTranscriber(server.URL, "", log.Discard())
		_, err := tr.Transcribe(context.Background(), []byte{0, 0}, 24000)
		if !errors.Is(err, ErrRequestFailed) {
			t.Errorf("err = %v, want ErrRequestFailed", err)
		}
	})

	t.Run("openai missing key", func(t *testing.T) {
		if _, err := NewOpenAITranscriber("", "", "", "", nil); !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("err = %v, want ErrMissingAPIKey", err)
		}
	})
}

func TestIsFiller(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"mmm", true},
		{"Mmm.", true},
		{"hmm", true},
		{"mhm", true},
		{"uh", true},
		{"ehm", true},
		{"ahh", true},
		{"", false},
		{"hola", false},
		{"no", false},
		{"hi", false},
		{"ok", false},
		{"ha ha", false},
		{"hmm yes", false},
		{"mmmmmmmm", false},
		{"Uhm...", true},
		{"eh", true},
		{"oh", true},
		{"a", false},
		{"am", false},
		{"him", false},
		{"ham", false},
		{"me", false},
		{"u", false},
		{"mi", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := IsFiller(tt.text); got != tt.want {
				t.Errorf("IsFiller(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestNeedsClassification(t *testing.T) {
	if !NeedsClassification("vale", false) {
		t.Error("single word should need classification")
	}
	if NeedsClassification("quiero cambiar mi reserva", false) {
		t.Error("sentence while silent should not need classification")
	}
	if !NeedsClassification("quiero cambiar mi reserva", true) {
		t.Error("anything while assistant talks should need classification")
	}
}

func TestChatClassifier(t *testing.T) {
	t.Run("ignore", func(t *testing.T) {
		mock := inference.ChatReply(" IGNORE\n")
		c := NewChatClassifier(mock, "", log.Discard())
		intent, err := c.Classify(context.Background(), "yeah", true)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if intent != IntentIgnore {
			t.Errorf("intent = %s, want IGNORE", intent)
		}
		if mock.CallCount("Chat") != 1 {
			t.Errorf("chat calls = %d, want 1", mock.CallCount("Chat"))
		}
	})

	t.Run("user turn", func(t *testing.T) {
		c := NewChatClassifier(inference.ChatReply("USER_TURN"), "", log.Discard())
		intent, _ := c.Classify(context.Background(), "stop", true)
		if intent != IntentUserTurn {
			t.Errorf("intent = %s, want USER_TURN", intent)
		}
	})

	t.Run("error", func(t *testing.T) {
		c := NewChatClassifier(inference.WithError(errors.New("down")), "", log.Discard())
		intent, err := c.Classify(context.Background(), "stop", false)
		if err == nil {
			t.Fatal("expected error")
		}
		if intent != IntentUserTurn {
			t.Errorf("intent = %s, want USER_TURN on error", intent)
		}
	})
}

func TestParseIntent(t *testing.T) {
	for reply, want := range map[string]Intent{
		"IGNORE":    IntentIgnore,
		"ignore.":   IntentIgnore,
		"USER_TURN": IntentUserTurn,
		"":          IntentUserTurn,
		"no idea":   IntentUserTurn,
	} {
		if got := ParseIntent(reply); got != want {
			t.Errorf("ParseIntent(%q) = %s, want %s", reply, got, want)
		}
	}
}

func TestPipeline(t *testing.T) {
	ctx := context.Background()
	pcm := make([]byte, 9600)

	t.Run("filler is dropped without classification", func(t *testing.T) {
		cls := &stubClassifier{intent: IntentUserTurn}
		p := NewPipeline(&stubTranscriber{text: "mmm"}, cls, true, 24000, log.Discard())
		res, err := p.Process(ctx, pcm, false)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if res.Action != ActionDropFiller {
			t.Errorf("action = %s, want filler", res.Action)
		}
		if cls.calls != 0 {
			t.Errorf("classifier calls = %d, want 0", cls.calls)
		}
	})

	t.Run("empty", func(t *testing.T) {
		p := NewPipeline(&stubTranscriber{}, nil, true, 24000, log.Discard())
		res, _ := p.Process(ctx, pcm, false)
		if res.Action != ActionDropEmpty {
			t.Errorf("action = %s, want empty", res.Action)
		}
	})

	t.Run("sentence forwarded without classification", func(t *testing.T) {
		cls := &stubClassifier{intent: IntentIgnore}
		p := NewPipeline(&stubTranscriber{text: "quiero cambiar mi vuelo"}, cls, true, 24000, log.Discard())
		res, _ := p.Process(ctx, pcm, false)
		if res.Action != ActionForward || res.Interrupt {
			t.Errorf("result = %+v, want forward without interrupt", res)
		}
		if cls.calls != 0 {
			t.Errorf("classifier calls = %d, want 0", cls.calls)
		}
	})

	t.Run("ignored while talking", func(t *testing.T) {
		cls := &stubClassifier{intent: IntentIgnore}
		p := NewPipeline(&stubTranscriber{text: "yeah"}, cls, true, 24000, log.Discard())
		res, _ := p.Process(ctx, pcm, true)
		if res.Action != ActionDropIgnored {
			t.Errorf("action = %s, want ignored", res.Action)
		}
	})

	t.Run("confirmed turn while talking interrupts", func(t *testing.T) {
		cls := &stubClassifier{intent: IntentUserTurn}
		p := NewPipeline(&stubTranscriber{text: "espera, para"}, cls, true, 24000, log.Discard())
		res, _ := p.Process(ctx, pcm, true)
		if res.Action != ActionForward || !res.Interrupt {
			t.Errorf("result = %+v, want forward with interrupt", res)
		}
	})

	t.Run("classifier failure fails open", func(t *testing.T) {
		cls := &stubClassifier{err: errors.New("timeout")}
		p := NewPipeline(&stubTranscriber{text: "cancel"}, cls, true, 24000, log.Discard())
		res, err := p.Process(ctx, pcm, false)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if res.Action != ActionForward {
			t.Errorf("action = %s, want forward", res.Action)
		}
	})

	t.Run("disabled makes no calls", func(t *testing.T) {
		tr := &stubTranscriber{text: "hola"}
		p := NewPipeline(tr, nil, false, 24000, log.Discard())
		res, _ := p.Process(ctx, pcm, false)
		if res.Action != ActionDropDisabled {
			t.Errorf("action = %s, want disabled", res.Action)
		}
		if tr.calls.Load() != 0 {
			t.Errorf("transcriber calls = %d, want 0", tr.calls.Load())
		}
	})

	t.Run("transcriber error", func(t *testing.T) {
		p := NewPipeline(&stubTranscriber{err: ErrRequestFailed}, nil, true, 24000, log.Discard())
		if _, err := p.Process(ctx, pcm, false); !errors.Is(err, ErrRequestFailed) {
			t.Errorf("err = %v, want ErrRequestFailed", err)
		}
	})
}
