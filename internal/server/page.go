package server

import (
	"crypto/rand"
	"html/template"
	"net/http"
)

// handleRoomPage serves the chat page. The room is resolved before the page
// renders: a configured fixed room pins everyone together, an id query
// parameter revives an existing or bookmarked room, and otherwise every
// visitor gets a freshly generated one.
func (s *Server) handleRoomPage(w http.ResponseWriter, r *http.Request) {
	roomID := s.cfg.FixedRoomID
	if roomID == "" {
		roomID = r.URL.Query().Get("id")
	}
	room := s.registry.EnsureRoom(roomID)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := roomPage.Execute(w, roomPageData{
		RoomID: room.ID(),
		Theme:  randomThemeColor(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("error rendering room page")
	}
}

// randomThemeColor picks a random hex color so each visit gets its own look.
func randomThemeColor() string {
	const hexDigits = "0123456789ABCDEF"
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	color := make([]byte, 0, 7)
	color = append(color, '#')
	for _, b := range buf {
		color = append(color, hexDigits[int(b)%len(hexDigits)])
	}
	return string(color)
}

type roomPageData struct {
	RoomID string
	Theme  string
}

var roomPage = template.Must(template.New("room").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>xat room {{.RoomID}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; border-top: 8px solid {{.Theme}}; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: {{.Theme}}; color: white; border: none; cursor: pointer; }
    </style>
</head>
<body>
    <h1>Room {{.RoomID}}</h1>
    <div id="messages"></div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message...">
        <button onclick="sendMessage()">Send</button>
    </div>

    <script>
        const roomId = {{.RoomID}};
        const sender = prompt("What's your name?") || "Anonymous";
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');

        const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(proto + location.host + '/ws?id=' + encodeURIComponent(roomId));

        ws.onopen = function() {
            ws.send(JSON.stringify({ type: 'join', roomId: roomId, sender: sender }));
        };

        ws.onmessage = function(event) {
            const msg = JSON.parse(event.data);
            const el = document.createElement('div');
            // Bodies arrive sanitized from the relay.
            el.innerHTML = '<strong>' + msg.sender + ':</strong> ' + msg.message;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        };

        window.addEventListener('beforeunload', function() {
            ws.send(JSON.stringify({ type: 'leave', roomId: roomId, sender: sender }));
        });

        function sendMessage() {
            const body = messageInput.value;
            if (!body.trim()) { return; }
            ws.send(JSON.stringify({ roomId: roomId, sender: sender, message: body, date: new Date() }));
            messageInput.value = '';
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') { sendMessage(); }
        });
    </script>
</body>
</html>`))
