package voice

import (
	"errors"
	"sort"
	"strings"
	"testing"
)

func TestDefaultVoiceInCatalog(t *testing.T) {
	v, err := Resolve("")
	if err != nil {
		t.Fatalf("resolve default: %v", err)
	}
	if v.ID != DefaultVoiceID {
		t.Fatalf("expected %s, got %s", DefaultVoiceID, v.ID)
	}
	if v.ModelURL == "" || v.ConfigURL == "" {
		t.Fatal("default voice missing model URLs")
	}
}

func TestResolveKnownVoice(t *testing.T) {
	v, err := Resolve("de_DE-thorsten-high")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Speaker != "thorsten" || v.Quality != "high" {
		t.Fatalf("unexpected voice: %+v", v)
	}
	if !strings.HasSuffix(v.ConfigURL, ".onnx.json") {
		t.Fatalf("unexpected config url: %s", v.ConfigURL)
	}
}

func TestResolveUnknownVoice(t *testing.T) {
	_, err := Resolve("does-not-exist")
	if !errors.Is(err, ErrUnknownVoice) {
		t.Fatalf("expected ErrUnknownVoice, got %v", err)
	}
}

func TestListOrdering(t *testing.T) {
	voices := List()
	if len(voices) != len(catalog) {
		t.Fatalf("expected %d voices, got %d", len(catalog), len(voices))
	}
	sorted := sort.SliceIsSorted(voices, func(i, j int) bool {
		if voices[i].Language != voices[j].Language {
			return voices[i].Language < voices[j].Language
		}
		if voices[i].Speaker != voices[j].Speaker {
			return voices[i].Speaker < voices[j].Speaker
		}
		return voices[i].Quality < voices[j].Quality
	})
	if !sorted {
		t.Fatal("expected voices grouped by language then speaker")
	}
}

func TestListDoesNotExposeCatalogBacking(t *testing.T) {
	voices := List()
	voices[0].ID = "mutated"
	if _, err := Resolve("mutated"); err == nil {
		t.Fatal("mutating the listed slice must not affect the catalog")
	}
}

func TestByLanguage(t *testing.T) {
	voices := ByLanguage("en_US")
	if len(voices) != 6 {
		t.Fatalf("expected 6 en_US voices, got %d", len(voices))
	}
	for _, v := range voices {
		if v.LanguageCode != "en_US" {
			t.Fatalf("unexpected language code: %s", v.LanguageCode)
		}
	}
}

func TestQualityValues(t *testing.T) {
	for _, v := range List() {
		switch v.Quality {
		case "low", "medium", "high":
		default:
			t.Fatalf("voice %s has invalid quality %q", v.ID, v.Quality)
		}
	}
}
