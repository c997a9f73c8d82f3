package llm

import (
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// perMessageOverhead approximates the role framing tokens of a chat message.
const perMessageOverhead = 4

var (
	tokenizer atomic.Pointer[tiktoken.Tiktoken]
	warmOnce  sync.Once
	warmErr   error
)

// WarmTokenizer loads the cl100k_base BPE tables, which may need a network
// fetch on first use. Call it off the request path; CountTokens never loads
// the tables itself.
func WarmTokenizer() error {
	warmOnce.Do(func() {
		tk, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			warmErr = err
			return
		}
		tokenizer.Store(tk)
	})
	return warmErr
}

// CountTokens estimates the token length of text. Until WarmTokenizer has
// succeeded it counts one token per four runes.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if tk := tokenizer.Load(); tk != nil {
		return len(tk.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

func estimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// TrimHistory keeps the newest messages whose combined size fits budget.
// Order is preserved. A budget <= 0 disables trimming.
func TrimHistory(messages []Message, budget int, count func(string) int) []Message {
	if budget <= 0 || len(messages) == 0 {
		return messages
	}
	if count == nil {
		count = CountTokens
	}
	used := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := count(messages[i].Content) + perMessageOverhead
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	return messages[start:]
}
