package tutor

import (
	"fmt"
	"strings"

	"github.com/ent0n29/lingotalk/internal/segment"
)

// Mode selects the reply shape requested from the model.
type Mode string

const (
	// ModeSimple asks for a reply plus a vocabulary section.
	ModeSimple Mode = "simple"
	// ModeExtended also asks for example learner responses.
	ModeExtended Mode = "extended"
	// ModeConversation is extended mode that continues a multi-turn history.
	ModeConversation Mode = "conversation"
)

// ParseMode accepts the mode names used on the wire. Empty means simple.
func ParseMode(raw string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeSimple:
		return ModeSimple, true
	case ModeExtended:
		return ModeExtended, true
	case ModeConversation:
		return ModeConversation, true
	default:
		return "", false
	}
}

func (m Mode) segmentMode() segment.Mode {
	if m == ModeSimple {
		return segment.Simple
	}
	return segment.Extended
}

const genericPrompt = "You are a helpful conversation partner. " +
	"Please respond naturally to the user's message."

// SystemPrompt returns the instructions for lang and mode. Languages without
// markers get a plain conversation-partner prompt.
func SystemPrompt(lang segment.Language, mode Mode) string {
	m, ok := segment.MarkersFor(lang)
	if !ok {
		return genericPrompt
	}
	switch lang {
	case segment.Japanese:
		return japanesePrompt(m, mode)
	default:
		return englishPrompt(m, mode)
	}
}

func englishPrompt(m segment.Markers, mode Mode) string {
	var b strings.Builder
	b.WriteString("You are a helpful English conversation partner. ")
	if mode == ModeConversation {
		b.WriteString("Continue the conversation naturally, taking the previous messages into account. ")
	}
	b.WriteString("After responding to the user's message, identify 3 key words or phrases from your response. ")
	b.WriteString("For each word, provide the Korean meaning and 2 example sentences using that word. ")
	if mode != ModeSimple {
		b.WriteString("Then suggest 3 natural replies the learner could say next. ")
	}
	b.WriteString("Format your response as: [Your normal response] ")
	fmt.Fprintf(&b, "%s ", m.Vocabulary)
	b.WriteString("1. [word]: [Korean meaning] - Example 1: [example] - Example 2: [example] ")
	b.WriteString("2. [word]: [Korean meaning] - [examples...] ")
	b.WriteString("3. [word]: [Korean meaning] - [examples...]")
	if mode != ModeSimple {
		fmt.Fprintf(&b, " %s 1. [reply] 2. [reply] 3. [reply]", m.Examples)
	}
	return b.String()
}

func japanesePrompt(m segment.Markers, mode Mode) string {
	var b strings.Builder
	b.WriteString("あなたは役立つ日本語の会話パートナーです。")
	if mode == ModeConversation {
		b.WriteString("これまでのメッセージを踏まえて、自然に会話を続けてください。")
	}
	b.WriteString("ユーザーのメッセージに応答した後、あなたの応答から3つのキーワードまたはフレーズを特定します。")
	b.WriteString("各単語について、韓国語の意味とその単語を使用した2つの例文を提供してください。")
	if mode != ModeSimple {
		b.WriteString("その後、学習者が次に言える自然な返答を3つ提案してください。")
	}
	b.WriteString("次の形式で応答してください: [通常の応答] ")
	fmt.Fprintf(&b, "%s ", m.Vocabulary)
	b.WriteString("1. [単語]: [韓国語の意味] - 例文1: [例文] - 例文2: [例文] ")
	b.WriteString("2. [単語]: [韓国語の意味] - [例文...] ")
	b.WriteString("3. [単語]: [韓国語の意味] - [例文...]")
	if mode != ModeSimple {
		fmt.Fprintf(&b, " %s 1. [返答] 2. [返答] 3. [返答]", m.Examples)
	}
	return b.String()
}

var languageNames = map[string]string{
	"ko": "Korean",
	"en": "English",
	"ja": "Japanese",
}

func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// TranslationPrompt instructs a literal translation from source to target.
func TranslationPrompt(source, target string) string {
	return fmt.Sprintf(
		"You are a professional translator. Translate the user's %s text into %s. "+
			"Reply with the translation only, without notes or quotation marks.",
		languageName(source), languageName(target),
	)
}
