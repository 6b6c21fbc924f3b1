package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomchat server is running!")
}

// RoomSnapshot is one room in the RoomsHandler response.
type RoomSnapshot struct {
	Name    string   `json:"name"`
	Doors   []string `json:"doors"`
	Members []string `json:"members"`
}

// RoomsHandler reports every room with its doors and current members.
func (s *Server) RoomsHandler(w http.ResponseWriter, _ *http.Request) {
	rooms := s.building.Rooms()
	snapshot := make([]RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		snapshot = append(snapshot, RoomSnapshot{
			Name:    room.Name(),
			Doors:   room.Doors(),
			Members: room.Members(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		s.log.Error().Err(err).Msg("error writing rooms response")
	}
}

// WebSocketHandler upgrades GET requests from allowed origins and serves the
// chat protocol over the socket, one text frame per line.
func (s *Server) WebSocketHandler() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newOriginPolicy(s.cfg.AllowedOrigins, s.log).checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
			return
		}

		if err := s.accept(newWSStream(conn, s.cfg.MaxMessageSize), r.RemoteAddr, "websocket"); err != nil {
			s.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("refusing WebSocket connection")
		}
	}
}

// TestPageHandler serves a minimal page for trying the protocol over /ws.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>roomchat</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; }
    </style>
</head>
<body>
    <h1>roomchat</h1>
    <div>
        <input id="user" placeholder="user"> <input id="pass" type="password" placeholder="password">
        <button onclick="login()">Login</button>
    </div>
    <div id="log"></div>
    <input id="line" size="60" placeholder="text, or /go room, /doors, /logout" disabled>
    <script>
        const log = document.getElementById('log');
        const line = document.getElementById('line');
        let ws = null;

        function show(text) {
            const el = document.createElement('div');
            el.textContent = text;
            log.appendChild(el);
            log.scrollTop = log.scrollHeight;
        }

        function send(msg) {
            ws.send(JSON.stringify(msg));
        }

        function login() {
            ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
            ws.onopen = () => send({type: 'Login', userName: user.value, password: pass.value});
            ws.onmessage = (event) => {
                const msg = JSON.parse(event.data);
                if (msg.type === 'KeepAlive') { send({type: 'Alive'}); return; }
                if (msg.type === 'LoginOK') { line.disabled = false; }
                show(event.data);
            };
            ws.onclose = () => { show('connection closed'); line.disabled = true; };
        }

        line.addEventListener('keypress', (e) => {
            if (e.key !== 'Enter' || !ws) return;
            const text = line.value.trim();
            line.value = '';
            if (text.startsWith('/go ')) send({type: 'Go', roomName: text.slice(4).trim()});
            else if (text === '/doors') send({type: 'ListDoors'});
            else if (text === '/logout') send({type: 'Logout'});
            else if (text) send({type: 'Public', text: text});
        });
    </script>
</body>
</html>`
