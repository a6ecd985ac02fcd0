package model

import "fmt"

// Summary renders the one-line chat-list preview for a message.
// Text is shown verbatim; other types collapse to a bracketed tag.
func Summary(m Message) string {
	if m.IsRecalled {
		return RecallNotice(m.IsFromLocalUser, m.SenderID)
	}
	switch m.Type {
	case MessageText:
		return m.Text
	case MessageTransfer:
		if m.Amount != "" {
			return fmt.Sprintf("[transfer] ¥%s", m.Amount)
		}
		return "[transfer]"
	case MessageRedPacket:
		return "[red packet]"
	case MessageImage:
		return "[image]"
	case MessageVoice:
		return "[voice]"
	case MessageSystem:
		return "[system]"
	default:
		return fmt.Sprintf("[%s]", m.Type)
	}
}

// RecallNotice is the preview line shown after a recall, attributed to
// the local user or the counterpart.
func RecallNotice(self bool, senderID string) string {
	if self {
		return "You recalled a message"
	}
	return fmt.Sprintf("%s recalled a message", senderID)
}
