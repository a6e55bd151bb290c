package stt

import "strings"

// Encoding is the audio encoding sent in a recognition config.
// An empty encoding lets the service read it from the file header.
type Encoding string

const (
	EncodingUnspecified Encoding = ""
	EncodingLinear16    Encoding = "LINEAR16"
	EncodingFLAC        Encoding = "FLAC"
	EncodingMP3         Encoding = "MP3"
)

const (
	DefaultLanguageCode    = "km-KH"
	defaultModel           = "default"
	defaultMaxAlternatives = 3
)

// SupportedExtensions lists the file extensions that can be transcribed
var SupportedExtensions = []string{"flac", "mp3", "wav", "mpeg"}

// SupportedExtension reports whether ext is one of SupportedExtensions
func SupportedExtension(ext string) bool {
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// SupportedExtensionsSentence renders the supported set for error messages
func SupportedExtensionsSentence() string {
	n := len(SupportedExtensions)
	return strings.Join(SupportedExtensions[:n-1], ", ") + " and " + SupportedExtensions[n-1]
}

// Profile is an encoding template for one family of audio files.
// Profiles are values with unexported fields, so a profile cannot be changed after creation.
type Profile struct {
	name            string
	encoding        Encoding
	sampleRateHertz int
}

func (p Profile) Name() string { return p.name }

func (p Profile) Encoding() Encoding { return p.encoding }

func (p Profile) SampleRateHertz() int { return p.sampleRateHertz }

var (
	ProfileDefault = Profile{name: "default", encoding: EncodingLinear16}
	ProfileFLAC    = Profile{name: "flac", encoding: EncodingFLAC}
	// MP3 needs the sample rate to match the file, 16kHz covers most uploads
	ProfileMP3 = Profile{name: "mp3", encoding: EncodingMP3, sampleRateHertz: 16000}
	// WAV carries its encoding in the header
	ProfileWAV = Profile{name: "wav", encoding: EncodingUnspecified}
)

// ProfileFor selects the encoding profile for a file extension.
// mpeg uploads are usually mp3 and share its profile.
func ProfileFor(ext string) Profile {
	switch ext {
	case "flac":
		return ProfileFLAC
	case "wav":
		return ProfileWAV
	case "mp3", "mpeg":
		return ProfileMP3
	default:
		return ProfileDefault
	}
}

// SpeechContext gives the recognizer phrase hints
type SpeechContext struct {
	Phrases []string `json:"phrases"`
	Boost   float64  `json:"boost,omitempty"`
}

// RecognitionConfig is the config half of a long-running recognize request
type RecognitionConfig struct {
	Encoding                            Encoding        `json:"encoding,omitempty"`
	SampleRateHertz                     int             `json:"sampleRateHertz,omitempty"`
	LanguageCode                        string          `json:"languageCode"`
	Model                               string          `json:"model,omitempty"`
	MaxAlternatives                     int             `json:"maxAlternatives,omitempty"`
	EnableAutomaticPunctuation          bool            `json:"enableAutomaticPunctuation,omitempty"`
	EnableWordConfidence                bool            `json:"enableWordConfidence,omitempty"`
	EnableWordTimeOffsets               bool            `json:"enableWordTimeOffsets,omitempty"`
	AudioChannelCount                   int             `json:"audioChannelCount,omitempty"`
	EnableSeparateRecognitionPerChannel bool            `json:"enableSeparateRecognitionPerChannel,omitempty"`
	SpeechContexts                      []SpeechContext `json:"speechContexts,omitempty"`
}

// RecognitionAudio points at the audio, either by URI or inline base64 content
type RecognitionAudio struct {
	URI     string `json:"uri,omitempty"`
	Content string `json:"content,omitempty"`
}

// Params is everything a Recognizer needs to start a job
type Params struct {
	Config RecognitionConfig `json:"config"`
	Audio  RecognitionAudio  `json:"audio"`
}

// Options are the per-request settings layered over a profile
type Options struct {
	LanguageCode     string
	MultipleChannels bool
	Phrases          []string
	PhraseBoost      float64
}

// BuildConfig combines a profile with request options into a new config.
// Neither argument is modified and the result shares no memory with them.
func BuildConfig(p Profile, opts Options) RecognitionConfig {
	lang := opts.LanguageCode
	if lang == "" {
		lang = DefaultLanguageCode
	}

	cfg := RecognitionConfig{
		Encoding:                   p.encoding,
		SampleRateHertz:            p.sampleRateHertz,
		LanguageCode:               lang,
		Model:                      defaultModel,
		MaxAlternatives:            defaultMaxAlternatives,
		EnableAutomaticPunctuation: true,
		EnableWordConfidence:       true,
		EnableWordTimeOffsets:      true,
	}

	if opts.MultipleChannels {
		cfg.AudioChannelCount = 2
		cfg.EnableSeparateRecognitionPerChannel = true
	}

	if len(opts.Phrases) > 0 {
		phrases := make([]string, len(opts.Phrases))
		copy(phrases, opts.Phrases)
		cfg.SpeechContexts = []SpeechContext{{Phrases: phrases, Boost: opts.PhraseBoost}}
	}

	return cfg
}
