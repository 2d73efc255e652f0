package broker

import "github.com/dkeye/Mingle/internal/domain"

// Outbound event names, part of the client protocol.
const (
	EventSearching            = "searching"
	EventChatStart            = "chatStart"
	EventNewMessage           = "newMessageToClient"
	EventStrangerTyping       = "strangerIsTyping"
	EventStrangerDoneTyping   = "strangerIsDoneTyping"
	EventStrangerDisconnected = "strangerDisconnected"
	EventGoodBye              = "goodBye"
	EventEndChat              = "endChat"
	EventOnline               = "numberOfOnline"
)

// Notifier is the broker's view of the transport layer. Send and
// Broadcast are fire-and-forget; a slow or gone receiver is the
// transport's problem, never the broker's.
type Notifier interface {
	Send(h domain.Handle, v any)
	Broadcast(v any)
	ForceClose(h domain.Handle)
}

type textNotice struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type messageNotice struct {
	Type   string        `json:"type"`
	Handle domain.Handle `json:"handle"`
	Text   string        `json:"text"`
}

type typingNotice struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type onlineNotice struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}
