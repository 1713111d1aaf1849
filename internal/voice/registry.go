package voice

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownVoice is returned when a requested voice id is not in the catalog.
var ErrUnknownVoice = errors.New("unknown voice")

// Voice describes one synthesis configuration from the Piper voices repository.
type Voice struct {
	ID           string `json:"id"`
	Language     string `json:"language"`
	LanguageCode string `json:"language_code"`
	LanguageName string `json:"language_name"`
	Speaker      string `json:"speaker"`
	Quality      string `json:"quality"`
	Gender       string `json:"gender,omitempty"`
	Description  string `json:"description,omitempty"`
	ModelURL     string `json:"-"`
	ConfigURL    string `json:"-"`
}

// DefaultVoiceID is the voice used when a request does not name one.
const DefaultVoiceID = "en_US-lessac-medium"

const piperVoiceBase = "https://huggingface.co/rhasspy/piper-voices/resolve/v1.0.0"

func piperURLs(lang, code, speaker, quality string) (model, config string) {
	model = fmt.Sprintf("%s/%s/%s/%s/%s/%s-%s-%s.onnx", piperVoiceBase, lang, code, speaker, quality, code, speaker, quality)
	return model, model + ".json"
}

func voiceEntry(code, langLabel, langName, speaker, quality, gender, description string) Voice {
	model, cfg := piperURLs(code[:2], code, speaker, quality)
	return Voice{
		ID:           fmt.Sprintf("%s-%s-%s", code, speaker, quality),
		Language:     langLabel,
		LanguageCode: code,
		LanguageName: langName,
		Speaker:      speaker,
		Quality:      quality,
		Gender:       gender,
		Description:  description,
		ModelURL:     model,
		ConfigURL:    cfg,
	}
}

// catalog is fixed at compile time and read-only afterwards.
var catalog = []Voice{
	voiceEntry("en_US", "English (US)", "English", "lessac", "medium", "female", "High quality female American English voice"),
	voiceEntry("en_US", "English (US)", "English", "lessac", "high", "female", "Very high quality female American English voice"),
	voiceEntry("en_US", "English (US)", "English", "ryan", "medium", "male", "High quality male American English voice"),
	voiceEntry("en_US", "English (US)", "English", "ryan", "high", "male", "Very high quality male American English voice"),
	voiceEntry("en_US", "English (US)", "English", "amy", "medium", "female", "Natural female American English voice"),
	voiceEntry("en_US", "English (US)", "English", "joe", "medium", "male", "Clear male American English voice"),
	voiceEntry("en_GB", "English (UK)", "English", "alan", "medium", "male", "British male English voice"),
	voiceEntry("en_GB", "English (UK)", "English", "cori", "high", "female", "High quality British female voice"),
	voiceEntry("de_DE", "German", "Deutsch", "thorsten", "medium", "male", "German male voice"),
	voiceEntry("de_DE", "German", "Deutsch", "thorsten", "high", "male", "High quality German male voice"),
	voiceEntry("fr_FR", "French", "Français", "siwis", "medium", "female", "French female voice"),
	voiceEntry("fr_FR", "French", "Français", "tom", "medium", "male", "French male voice"),
	voiceEntry("es_ES", "Spanish (Spain)", "Español", "davefx", "medium", "male", "Spanish male voice"),
	voiceEntry("es_MX", "Spanish (Mexico)", "Español", "claude", "high", "male", "Mexican Spanish male voice"),
	voiceEntry("it_IT", "Italian", "Italiano", "paola", "medium", "female", "Italian female voice"),
	voiceEntry("pt_BR", "Portuguese (Brazil)", "Português", "faber", "medium", "male", "Brazilian Portuguese male voice"),
	voiceEntry("ru_RU", "Russian", "Русский", "denis", "medium", "male", "Russian male voice"),
}

var byID = func() map[string]Voice {
	m := make(map[string]Voice, len(catalog))
	for _, v := range catalog {
		m[v.ID] = v
	}
	return m
}()

// List returns the full catalog ordered by language, then speaker, then quality.
func List() []Voice {
	voices := make([]Voice, len(catalog))
	copy(voices, catalog)
	sort.SliceStable(voices, func(i, j int) bool {
		if voices[i].Language != voices[j].Language {
			return voices[i].Language < voices[j].Language
		}
		if voices[i].Speaker != voices[j].Speaker {
			return voices[i].Speaker < voices[j].Speaker
		}
		return voices[i].Quality < voices[j].Quality
	})
	return voices
}

// Resolve maps a requested voice id to its catalog entry. An empty id selects
// the default voice.
func Resolve(id string) (Voice, error) {
	if id == "" {
		return byID[DefaultVoiceID], nil
	}
	v, ok := byID[id]
	if !ok {
		return Voice{}, fmt.Errorf("%w: %s", ErrUnknownVoice, id)
	}
	return v, nil
}

// ByLanguage returns catalog entries matching a language code.
func ByLanguage(code string) []Voice {
	var voices []Voice
	for _, v := range List() {
		if v.LanguageCode == code {
			voices = append(voices, v)
		}
	}
	return voices
}

// Default returns the catalog entry for DefaultVoiceID.
func Default() Voice {
	return byID[DefaultVoiceID]
}
