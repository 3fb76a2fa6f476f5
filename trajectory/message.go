package trajectory

import "fmt"

type Message struct {
	Render

	Author MessageAuthor `json:"author"`
	Text   string        `json:"text"`
}

type MessageAuthor string

const (
	MessageAuthorUser             MessageAuthor = "user"
	MessageAuthorAgent            MessageAuthor = "agent"
	MessageAuthorInternalFeedback MessageAuthor = "internal_feedback"
)

func NewUserMessage(text string) TrajectoryItem {
	return &Message{
		Author: MessageAuthorUser,
		Text:   text,
	}
}

func NewAgentMessage(text string) TrajectoryItem {
	return &Message{
		Author: MessageAuthorAgent,
		Text:   text,
	}
}

// NewInternalFeedback tells the decision model why its last step did not
// go through, e.g. an unparseable response or an unresolvable target.
func NewInternalFeedback(text string) TrajectoryItem {
	return &Message{
		Author: MessageAuthorInternalFeedback,
		Text:   text,
	}
}

func (m *Message) GetText() string {
	return fmt.Sprintf("%s: %s", m.Author, m.Text)
}

const DefaultAgentMessageAbbreviationLength = 100

func (m *Message) GetAbbreviatedText() string {
	text := m.GetText()
	if m.Author == MessageAuthorAgent && len(m.Text) > DefaultAgentMessageAbbreviationLength {
		return fmt.Sprintf("%s...", text[:DefaultAgentMessageAbbreviationLength])
	}
	return text
}

func (m *Message) ShouldHandoff() bool {
	return m.Author != MessageAuthorInternalFeedback
}
