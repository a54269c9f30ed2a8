package relay

import (
	"encoding/json"
	"strings"
	"time"
)

// SystemSender is the display name attached to relay-generated notices.
const SystemSender = "Sysadmin"

// Message is one entry in a room's log. Immutable once stored. The Body of a
// user message has already been sanitized by the decoder; system notices may
// carry the bold wrapper around an already-sanitized actor name.
type Message struct {
	Date   time.Time `json:"date"`
	Sender string    `json:"sender"`
	Body   string    `json:"message"`
}

// Encode renders the outbound broadcast form of the message.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// FrameKind tags the decoded variant of an inbound frame.
type FrameKind int

const (
	// FrameMalformed marks an unparseable payload, a missing room
	// identifier, or an unrecognized control type. Such frames are dropped
	// without a response.
	FrameMalformed FrameKind = iota
	// FrameJoin subscribes the connection to a room.
	FrameJoin
	// FrameLeave unsubscribes the connection from a room.
	FrameLeave
	// FrameChat carries a user message for the room.
	FrameChat
)

// Frame is the validated form of one inbound payload. Handling switches on
// Kind; the remaining fields are meaningful only for the kinds that set them.
type Frame struct {
	Kind    FrameKind
	RoomID  string
	Sender  string
	Message Message // populated for FrameChat, body already sanitized
}

// wireFrame mirrors the inbound JSON shape. Control frames carry a type
// field; chat frames omit it.
type wireFrame struct {
	Type    string    `json:"type"`
	RoomID  string    `json:"roomId"`
	Sender  string    `json:"sender"`
	Message string    `json:"message"`
	Date    time.Time `json:"date"`
}

// DecodeFrame validates one inbound payload and returns its tagged variant.
// It never fails: anything that cannot be interpreted becomes FrameMalformed.
// Chat bodies are sanitized here so nothing downstream ever sees live markup.
func DecodeFrame(payload []byte) Frame {
	var wf wireFrame
	if err := json.Unmarshal(payload, &wf); err != nil {
		return Frame{Kind: FrameMalformed}
	}
	if wf.RoomID == "" {
		return Frame{Kind: FrameMalformed}
	}

	// The sender is never validated, but it is rendered by clients and
	// embedded in system notices, so it passes through the sanitizer too.
	sender := Sanitize(wf.Sender)

	switch wf.Type {
	case "join":
		return Frame{Kind: FrameJoin, RoomID: wf.RoomID, Sender: sender}
	case "leave":
		return Frame{Kind: FrameLeave, RoomID: wf.RoomID, Sender: sender}
	case "":
		return Frame{
			Kind:   FrameChat,
			RoomID: wf.RoomID,
			Sender: sender,
			Message: Message{
				Date:   wf.Date,
				Sender: sender,
				Body:   Sanitize(wf.Message),
			},
		}
	default:
		return Frame{Kind: FrameMalformed}
	}
}

// systemNotice builds a room-wide announcement naming the actor. The bold
// wrapper stays live because it travels through the same channel as
// already-sanitized user messages; the actor name itself was sanitized at
// decode.
func systemNotice(actor, action string) Message {
	return Message{
		Date:   time.Now(),
		Sender: SystemSender,
		Body:   "<b>" + actor + "</b> " + action,
	}
}

// isBlank reports whether a body is empty or whitespace-only and should be
// dropped rather than stored or broadcast.
func isBlank(body string) bool {
	return strings.TrimSpace(body) == ""
}
