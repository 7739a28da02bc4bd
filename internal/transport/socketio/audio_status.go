package socketio

import (
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/audio"
)

// AudioStatus reports what the output is rendering.
type AudioStatus interface {
	GetStatus() audio.Status
}

func (s *Server) audioCommands() map[string]handlerFunc {
	if s.deps.Audio == nil {
		return nil
	}
	return map[string]handlerFunc{
		"getAudioStatus": func(reply emitter, args []any) {
			reply.Emit("pushAudioStatus", s.deps.Audio.GetStatus())
		},
	}
}

// BroadcastAudioStatus sends the output status to all connected clients.
func (s *Server) BroadcastAudioStatus() {
	if s.deps.Audio == nil {
		return
	}
	status := s.deps.Audio.GetStatus()
	s.io.Emit("pushAudioStatus", status)
	log.Debug().Bool("active", status.Active).Interface("format", status.Format).Msg("Broadcast audio status")
}
