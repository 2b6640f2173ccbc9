package app

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is the conversational state of one agent run: the provider-neutral
// message history plus the two context mechanisms layered on top of it. The
// loaded context is injected once into the next user turn; managed context
// files are re-injected on every request without being stored in history.
type Session struct {
	ID        string
	CreatedAt time.Time
	History   PromptHistory

	messages       []ChatMessage
	systemPrompt   string
	loadedContext  string
	managedContext map[string]string
}

func NewSession(systemPrompt string) *Session {
	s := &Session{
		CreatedAt:    time.Now(),
		systemPrompt: systemPrompt,
	}
	s.Reset()
	return s
}

// Reset starts a fresh conversation under a new id: only the system prompt
// survives. The prompt history is kept since it belongs to the terminal, not
// the thread.
func (s *Session) Reset() {
	s.ID = uuid.NewString()
	s.messages = []ChatMessage{{Role: "system", Content: s.systemPrompt}}
	s.loadedContext = ""
	s.managedContext = map[string]string{}
}

func (s *Session) AddMessage(msg ChatMessage) {
	s.messages = append(s.messages, msg)
}

// Messages returns a copy of the stored history.
func (s *Session) Messages() []ChatMessage {
	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) Len() int {
	return len(s.messages)
}

// PopLastIfUser removes a user message that was appended but cannot be
// processed, keeping the history consistent for the next attempt.
func (s *Session) PopLastIfUser() {
	if n := len(s.messages); n > 0 && s.messages[n-1].Role == "user" {
		s.messages = s.messages[:n-1]
	}
}

// SetLoadedContext stages a context blob for one-time injection into the
// next user turn.
func (s *Session) SetLoadedContext(context string) {
	s.loadedContext = context
}

func (s *Session) ClearLoadedContext() {
	s.loadedContext = ""
}

// LoadedContextSize returns the staged blob's length in bytes, zero when
// nothing is staged.
func (s *Session) LoadedContextSize() int {
	return len(s.loadedContext)
}

// InjectLoadedContext folds the staged context into the most recent user
// message and clears the stage. It reports whether an injection happened.
func (s *Session) InjectLoadedContext() bool {
	if s.loadedContext == "" {
		return false
	}
	n := len(s.messages)
	if n == 0 || s.messages[n-1].Role != "user" {
		return false
	}
	s.messages[n-1].Content = s.loadedContext + "\n--- User's Prompt ---\n" + s.messages[n-1].Content
	s.loadedContext = ""
	return true
}

// AddContextFile puts a file into the managed context, replacing any
// previous content for the same path.
func (s *Session) AddContextFile(path, content string) {
	s.managedContext[path] = content
}

func (s *Session) ContextFiles() []string {
	paths := make([]string, 0, len(s.managedContext))
	for path := range s.managedContext {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (s *Session) ClearContextFiles() {
	s.managedContext = map[string]string{}
}

// MessagesForAPI builds the request history: a copy of the stored messages
// with the managed context files fenced and prepended to the last user
// message. The stored history itself is never rewritten by this.
func (s *Session) MessagesForAPI() []ChatMessage {
	messages := s.Messages()
	if len(s.managedContext) == 0 {
		return messages
	}

	var b strings.Builder
	b.WriteString("--- CONTEXT START ---\n")
	for _, path := range s.ContextFiles() {
		b.WriteString("--- FILE: " + path + " ---\n")
		b.WriteString(s.managedContext[path])
		b.WriteString("\n--- END FILE: " + path + " ---\n\n")
	}
	b.WriteString("--- CONTEXT END ---\n\n")

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			messages[i].Content = b.String() + messages[i].Content
			break
		}
	}
	return messages
}

// PromptHistory is the Up/Down recall buffer for the input line. Newest
// entries sit at the front; navigation walks toward older ones.
type PromptHistory struct {
	entries []string
	index   int
}

// Add records an input and resets navigation. Duplicates are not re-added.
func (h *PromptHistory) Add(input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}
	for _, entry := range h.entries {
		if entry == input {
			h.index = -1
			return
		}
	}
	h.entries = append([]string{input}, h.entries...)
	h.index = -1
}

// Previous steps toward older entries and returns the one under the cursor.
func (h *PromptHistory) Previous() (string, bool) {
	if len(h.entries) == 0 {
		return "", false
	}
	if h.index < len(h.entries)-1 {
		h.index++
	}
	return h.entries[h.index], true
}

// Next steps back toward the present; an empty string means the cursor left
// the history and the input should clear.
func (h *PromptHistory) Next() string {
	if len(h.entries) == 0 || h.index <= -1 {
		return ""
	}
	h.index--
	if h.index == -1 {
		return ""
	}
	return h.entries[h.index]
}
