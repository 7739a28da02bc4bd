package socketio

import (
	"github.com/rs/zerolog/log"
)

func (s *Server) networkCommands() map[string]handlerFunc {
	cmds := map[string]handlerFunc{
		"getSystemInfo": func(reply emitter, args []any) {
			reply.Emit("pushSystemInfo", GetSystemInfo())
		},
	}

	if s.deps.Network != nil {
		cmds["getNetworkStatus"] = func(reply emitter, args []any) {
			reply.Emit("pushNetworkStatus", s.deps.Network.Status())
		}
	}
	return cmds
}

// BroadcastNetworkStatus sends the connectivity status to all clients.
func (s *Server) BroadcastNetworkStatus() {
	if s.deps.Network == nil {
		return
	}

	status := s.deps.Network.Status()
	log.Debug().Bool("online", status.Online).Str("type", status.Type).Msg("Broadcast network status")
	s.io.Emit("pushNetworkStatus", status)
}
