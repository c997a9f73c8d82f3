// Package segment splits tutor replies into conversation, vocabulary and
// example-response sections using the literal markers the system prompt asks
// the model to emit.
//
// Marker splitting is best effort by contract: model phrasing drift degrades
// to fewer sections, never to an error.
package segment

import "strings"

// Language identifies the target learning language.
type Language string

const (
	English  Language = "en"
	Japanese Language = "ja"
)

// Mode selects how many sections are recognized.
type Mode string

const (
	// Simple recognizes conversation and vocabulary only.
	Simple Mode = "simple"
	// Extended additionally recognizes example responses.
	Extended Mode = "extended"
)

// Markers holds the literal split points for one language.
type Markers struct {
	Vocabulary string
	Examples   string
}

var markersByLanguage = map[Language]Markers{
	English:  {Vocabulary: "VOCABULARY_SECTION:", Examples: "EXAMPLE_RESPONSES:"},
	Japanese: {Vocabulary: "語彙セクション:", Examples: "応答例:"},
}

// MarkersFor returns the markers for lang, if lang is supported.
func MarkersFor(lang Language) (Markers, bool) {
	m, ok := markersByLanguage[lang]
	return m, ok
}

// Result is a segmented reply. Every field is a substring of the input.
type Result struct {
	Conversation     string `json:"conversation"`
	Vocabulary       string `json:"vocabulary"`
	ExampleResponses string `json:"example_responses"`
}

// Segment splits text on the first occurrence of each marker for lang.
// Unsupported languages are returned whole as conversation.
func Segment(text string, lang Language, mode Mode) (res Result) {
	defer func() {
		if recover() != nil {
			res = Result{Conversation: text}
		}
	}()

	markers, ok := markersByLanguage[lang]
	if !ok {
		return Result{Conversation: text}
	}

	before, remainder, found := strings.Cut(text, markers.Vocabulary)
	if !found {
		return Result{Conversation: strings.TrimSpace(text)}
	}
	res.Conversation = strings.TrimSpace(before)

	if mode != Extended {
		res.Vocabulary = strings.TrimSpace(remainder)
		return res
	}

	vocab, examples, found := strings.Cut(remainder, markers.Examples)
	if !found {
		res.Vocabulary = strings.TrimSpace(remainder)
		return res
	}
	res.Vocabulary = strings.TrimSpace(vocab)
	res.ExampleResponses = strings.TrimSpace(examples)
	return res
}

// ParseLanguage maps route names ("english", "japanese") and codes ("en",
// "ja") to a Language.
func ParseLanguage(raw string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "en", "english":
		return English, true
	case "ja", "japanese":
		return Japanese, true
	default:
		return "", false
	}
}

// RouteName returns the path segment used for lang ("english", "japanese").
func (l Language) RouteName() string {
	switch l {
	case English:
		return "english"
	case Japanese:
		return "japanese"
	default:
		return string(l)
	}
}
