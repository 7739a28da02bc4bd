package socketio

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
	"github.com/edumarques81/stellar-offline-player/internal/domain/player"
)

// handlerFunc handles one inbound event. reply reaches only the sending client.
type handlerFunc func(reply emitter, args []any)

// CommandRejected tells a client its command was invalid.
type CommandRejected struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

// commands maps inbound event names to handlers.
func (s *Server) commands() map[string]handlerFunc {
	p := s.deps.Player

	cmds := map[string]handlerFunc{
		"getState": func(reply emitter, args []any) {
			reply.Emit("pushState", p.State().ToJSON())
		},
		"getTracks": func(reply emitter, args []any) {
			reply.Emit("pushTrackList", p.Tracks())
		},
		"selectTrack": func(reply emitter, args []any) {
			id, ok := argString(args, "id")
			if !ok || id == "" {
				reject(reply, "selectTrack", "missing id")
				return
			}
			if err := p.SelectTrack(id); err != nil {
				if errors.Is(err, music.ErrTrackNotFound) {
					log.Warn().Str("id", id).Msg("selectTrack for unknown track")
				}
				reject(reply, "selectTrack", err.Error())
			}
		},
		"toggle": func(reply emitter, args []any) { p.TogglePlayPause() },
		"play":   func(reply emitter, args []any) { p.Play() },
		"pause":  func(reply emitter, args []any) { p.Pause() },
		"next":   func(reply emitter, args []any) { p.Next() },
		"prev":   func(reply emitter, args []any) { p.Previous() },
		"seek": func(reply emitter, args []any) {
			pos, ok := argNumber(args, "value")
			if !ok {
				reject(reply, "seek", "missing value")
				return
			}
			p.Seek(pos)
		},
		"volume": func(reply emitter, args []any) {
			v, ok := argVolume(args)
			if !ok {
				reject(reply, "volume", "expected value 0-1 or percent 0-100")
				return
			}
			p.SetVolume(v)
		},
		"mute": func(reply emitter, args []any) {
			want, ok := argBool(args, "value")
			if len(args) > 0 && !ok {
				reject(reply, "mute", "value must be a boolean")
				return
			}
			if ok && want == p.State().Mute {
				return
			}
			p.ToggleMute()
		},
		"setRepeat": func(reply emitter, args []any) {
			on, ok := argBool(args, "value")
			if !ok {
				reject(reply, "setRepeat", "value must be a boolean")
				return
			}
			p.SetRepeat(on)
		},
		"setRandom": func(reply emitter, args []any) {
			on, ok := argBool(args, "value")
			if !ok {
				reject(reply, "setRandom", "value must be a boolean")
				return
			}
			p.SetShuffle(on)
		},
	}

	if s.deps.Snapshots != nil {
		cmds["captureSnapshot"] = func(reply emitter, args []any) {
			reply.Emit("pushSnapshot", s.deps.Snapshots.CaptureSnapshot())
		}
		cmds["restoreSnapshot"] = func(reply emitter, args []any) {
			snap, ok := argSnapshot(args)
			if !ok {
				reject(reply, "restoreSnapshot", "invalid snapshot")
				return
			}
			s.deps.Snapshots.RestoreSnapshot(snap)
		}
	}

	for _, extra := range []map[string]handlerFunc{s.catalogCommands(), s.networkCommands(), s.audioCommands()} {
		for name, fn := range extra {
			cmds[name] = fn
		}
	}
	return cmds
}

func reject(reply emitter, command, reason string) {
	log.Debug().Str("command", command).Str("reason", reason).Msg("Command rejected")
	reply.Emit("commandRejected", CommandRejected{Command: command, Reason: reason})
}

// argVolume reads a level in 0..1 from a bare number or {value}, or 0..100 from {percent}.
// Out of range levels are refused rather than guessed.
func argVolume(args []any) (float64, bool) {
	if m, ok := argMap(args); ok {
		if pct, ok := toFloat(m["percent"]); ok {
			if pct < 0 || pct > 100 {
				return 0, false
			}
			return pct / 100, true
		}
	}
	v, ok := argNumber(args, "value")
	if !ok || v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}

// argMap returns the first argument as an object.
func argMap(args []any) (map[string]interface{}, bool) {
	if len(args) == 0 {
		return nil, false
	}
	m, ok := args[0].(map[string]interface{})
	return m, ok
}

// argNumber accepts a bare number or {key: number}.
func argNumber(args []any, key string) (float64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	if v, ok := toFloat(args[0]); ok {
		return v, true
	}
	if m, ok := argMap(args); ok {
		return toFloat(m[key])
	}
	return 0, false
}

// argBool accepts a bare bool or {key: bool}.
func argBool(args []any, key string) (bool, bool) {
	if len(args) == 0 {
		return false, false
	}
	if v, ok := args[0].(bool); ok {
		return v, true
	}
	if m, ok := argMap(args); ok {
		v, ok := m[key].(bool)
		return v, ok
	}
	return false, false
}

// argString accepts a bare string or {key: string}.
func argString(args []any, key string) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	if v, ok := args[0].(string); ok {
		return v, true
	}
	if m, ok := argMap(args); ok {
		v, ok := m[key].(string)
		return v, ok
	}
	return "", false
}

func argSnapshot(args []any) (player.Snapshot, bool) {
	m, ok := argMap(args)
	if !ok {
		return player.Snapshot{}, false
	}
	id, ok := m["lastTrackId"].(string)
	if !ok {
		return player.Snapshot{}, false
	}
	at, _ := toFloat(m["currentTime"])
	playing, _ := m["isPlaying"].(bool)
	return player.Snapshot{LastTrackID: id, CurrentTime: at, IsPlaying: playing}, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
