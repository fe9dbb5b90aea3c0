package scope

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/teslashibe/go-voicebridge/internal/log"
	"github.com/teslashibe/go-voicebridge/pkg/inference"
	"github.com/teslashibe/go-voicebridge/pkg/rag"
)

type stubDetector struct {
	name string
	err  error
}

func (s stubDetector) Detect(ctx context.Context, text string) (string, float64, error) {
	return s.name, 0.9, s.err
}

func TestCatalogMerge(t *testing.T) {
	c := NewCatalog([]Scope{
		{Name: "Billing", Keywords: []string{" IBAN "}},
		{Name: "loyalty", Keywords: []string{"puntos", "millas"}},
		{Name: "  "},
	})

	if !c.Has("loyalty") || !c.Has("general") {
		t.Errorf("catalog names = %v", c.Names())
	}
	if len(c.Scopes()) != 5 {
		t.Errorf("len = %d, want 5", len(c.Scopes()))
	}

	if name, ok := c.MatchKeywords("mi iban es ES12"); !ok || name != "billing" {
		t.Errorf("MatchKeywords(iban) = %q, %v", name, ok)
	}
	if _, ok := c.MatchKeywords("quiero una factura"); ok {
		t.Error("configured billing scope should replace default keywords")
	}
	if name, _ := c.MatchKeywords("¿Cuántas MILLAS tengo?"); name != "loyalty" {
		t.Errorf("MatchKeywords(millas) = %q, want loyalty", name)
	}
}

func TestRouterDetect(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(nil)

	tests := []struct {
		name        string
		detector    Detector
		text        string
		current     string
		wantScope   string
		wantChanged bool
	}{
		{"detector wins", stubDetector{name: "billing"}, "mi reserva", "general", "billing", true},
		{"keyword fallback", stubDetector{}, "tengo un problema con mi reserva", "general", "support", true},
		{"detector error falls back", stubDetector{err: errors.New("down")}, "quiero un reembolso", "general", "billing", true},
		{"no match keeps current", nil, "buenos días", "booking", "booking", false},
		{"same scope not a change", nil, "mi vuelo sale hoy", "booking", "booking", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(catalog, tt.detector, log.Discard())
			got, changed := r.Detect(ctx, tt.text, tt.current)
			if got != tt.wantScope || changed != tt.wantChanged {
				t.Errorf("Detect = (%q, %v), want (%q, %v)", got, changed, tt.wantScope, tt.wantChanged)
			}
		})
	}
}

func TestRouterResolve(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(nil)

	tests := []struct {
		name        string
		detector    Detector
		text        string
		hint        string
		current     string
		wantScope   string
		wantChanged bool
	}{
		{"hint beats keywords", nil, "estado de mi reserva", "support", "general", "support", true},
		{"hint is case-insensitive", nil, "hola", "Billing", "general", "billing", true},
		{"detector beats hint", stubDetector{name: "booking"}, "mi factura", "billing", "general", "booking", true},
		{"detector error keeps hint", stubDetector{err: errors.New("down")}, "mi reserva", "support", "general", "support", true},
		{"unknown hint uses keywords", nil, "quiero un reembolso", "marketing", "general", "billing", true},
		{"unknown hint keeps current", nil, "buenos días", "marketing", "booking", "booking", false},
		{"hint equal to current", nil, "hola", "support", "support", "support", false},
		{"empty hint detects", nil, "mi vuelo", "", "general", "booking", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(catalog, tt.detector, log.Discard())
			got, changed := r.Resolve(ctx, tt.text, tt.hint, tt.current)
			if got != tt.wantScope || changed != tt.wantChanged {
				t.Errorf("Resolve = (%q, %v), want (%q, %v)", got, changed, tt.wantScope, tt.wantChanged)
			}
		})
	}
}

func TestHTTPDetector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/strong":
			w.Write([]byte(`{"scope":"booking","score":0.82}`))
		case "/weak":
			w.Write([]byte(`{"scope":"booking","score":0.2}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	ctx := context.Background()

	d, _ := NewHTTPDetector(server.URL+"/strong", "", 0.5)
	if name, _, err := d.Detect(ctx, "vuelo"); err != nil || name != "booking" {
		t.Errorf("strong: %q, %v", name, err)
	}

	d, _ = NewHTTPDetector(server.URL+"/weak", "", 0.5)
	if name, _, err := d.Detect(ctx, "vuelo"); err != nil || name != "" {
		t.Errorf("weak: %q, %v", name, err)
	}

	d, _ = NewHTTPDetector(server.URL+"/down", "", 0.5)
	if _, _, err := d.Detect(ctx, "vuelo"); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("down: err = %v", err)
	}

	if _, err := NewHTTPDetector("", "", 0); !errors.Is(err, ErrMissingURL) {
		t.Errorf("err = %v, want ErrMissingURL", err)
	}
}

func TestKnowledgeDetector(t *testing.T) {
	store, err := rag.NewStore([]rag.Item{
		{ID: "a", Scope: "billing", Text: "facturas", Embedding: []float64{1, 0}},
		{ID: "b", Scope: "booking", Text: "reservas", Embedding: []float64{0, 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	embedder := inference.FixedEmbedding(func(text string) []float64 {
		if text == "reserva" {
			return []float64{0.1, 1}
		}
		return []float64{-1, -1}
	})

	d := NewKnowledgeDetector(embedder, store, 0.5)
	if name, _, _ := d.Detect(context.Background(), "reserva"); name != "booking" {
		t.Errorf("Detect(reserva) = %q, want booking", name)
	}
	if name, _, _ := d.Detect(context.Background(), "otra cosa"); name != "" {
		t.Errorf("Detect(otra cosa) = %q, want no match", name)
	}
}
