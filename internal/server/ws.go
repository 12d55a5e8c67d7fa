package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"MissionCore/internal/engine"
	"MissionCore/internal/game"
	"MissionCore/internal/mission"
	"MissionCore/internal/tags"
	"MissionCore/internal/tracker"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	batchBuffer  = 64
	writeTimeout = 5 * time.Second
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type commandPayload struct {
	Mission string   `json:"mission"`
	Add     []string `json:"add,omitempty"`
	Remove  []string `json:"remove,omitempty"`
	Labels  []string `json:"labels,omitempty"`
}

type commandResult struct {
	Command string      `json:"command"`
	OK      bool        `json:"ok"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
	Outcome *outcomeDTO `json:"outcome,omitempty"`
}

type welcomeDTO struct {
	Room     string `json:"room"`
	PlayerID string `json:"player_id"`
	ActorID  int32  `json:"actor_id"`
}

func toTags(raw []string) []tags.Tag {
	out := make([]tags.Tag, 0, len(raw))
	for _, r := range raw {
		if t := tags.Tag(strings.TrimSpace(r)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// serveWS joins the caller to a room and streams its mission edit scripts.
//
// Binary frames carry tracker batches: a snapshot first, then incremental
// batches as the room flushes. Text frames carry JSON events and command
// results. Inbound text frames are JSON commands.
func serveWS(a *App, w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	roomID := query.Get("room")
	if roomID == "" {
		roomID = game.DefaultRoomID
	}
	name := query.Get("name")
	if name == "" {
		name = "Anon"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[ws] upgrade:", err)
		return
	}
	defer conn.Close()

	room := a.Hub.GetRoom(roomID)
	player, err := room.Join(r.Context(), name, query.Get("key"), toTags(splitList(query.Get("labels")))...)
	if err != nil {
		if isRoomFull(err) {
			_ = conn.WriteJSON(game.OutboundMessage{Type: "room:full", Payload: map[string]string{"message": "room full"}})
		} else {
			_ = conn.WriteJSON(game.OutboundMessage{Type: "error", Payload: map[string]string{"message": err.Error()}})
		}
		return
	}
	defer func() {
		if err := room.Leave(context.Background(), player.ID); err != nil {
			log.Printf("[ws] leave room=%s player=%s: %v", room.ID, player.ID, err)
		}
	}()

	batches := make(chan tracker.Batch, batchBuffer)
	var resync atomic.Bool
	cancelSub := room.Subscribe(player.ActorID, func(b tracker.Batch) {
		select {
		case batches <- b:
		default:
			resync.Store(true)
		}
	})
	defer cancelSub()

	if err := conn.WriteJSON(game.OutboundMessage{Type: "welcome", Payload: welcomeDTO{
		Room: room.ID, PlayerID: player.ID, ActorID: player.ActorID,
	}}); err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, tracker.EncodeBatch(player.Store.Full())); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				log.Printf("[ws] unsupported message type %d from player=%s", msgType, player.ID)
				continue
			}
			var inbound inboundMessage
			if err := json.Unmarshal(data, &inbound); err != nil {
				log.Printf("[ws] invalid JSON message: %v", err)
				continue
			}
			res := handleCommand(ctx, room, player, inbound)
			player.SendMessage("command:result", res)
		}
	}()

	sendTick := time.NewTicker(a.Config.FlushInterval)
	defer sendTick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-batches:
			if err := writeBinary(conn, tracker.EncodeBatch(b)); err != nil {
				return
			}
		case <-sendTick.C:
			if resync.Swap(false) {
				if err := writeBinary(conn, tracker.EncodeBatch(player.Store.Full())); err != nil {
					return
				}
			}
			for _, msg := range player.DrainMessages() {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}
	}
}

func writeBinary(conn *websocket.Conn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// handleCommand dispatches one inbound command against the room's engine.
func handleCommand(ctx context.Context, room *game.Room, p *game.Player, in inboundMessage) commandResult {
	res := commandResult{Command: in.Type}
	var cmd commandPayload
	if len(in.Payload) > 0 {
		if err := json.Unmarshal(in.Payload, &cmd); err != nil {
			res.Error = fmt.Sprintf("invalid payload: %v", err)
			return res
		}
	}

	var (
		out engine.Outcome
		err error
	)
	hasOutcome := true
	switch in.Type {
	case "mission:grant":
		out, err = room.Engine.GrantMission(ctx, p.ActorID, cmd.Mission)
	case "mission:complete":
		out, err = room.Engine.CompleteMission(ctx, p.ActorID, cmd.Mission)
	case "mission:fail":
		out, err = room.Engine.FailMission(ctx, p.ActorID, cmd.Mission)
	case "mission:remove":
		out, err = room.Engine.RemoveMission(ctx, p.ActorID, cmd.Mission)
	case "mission:tags":
		out, err = room.Engine.SetUserTags(ctx, p.ActorID, cmd.Mission, toTags(cmd.Add), toTags(cmd.Remove))
	case "mission:watch":
		hasOutcome = false
		err = room.Watch(p.ID, cmd.Mission)
	case "mission:unwatch":
		hasOutcome = false
		err = room.Unwatch(p.ID, cmd.Mission)
	case "labels:add":
		hasOutcome = false
		p.AddLabels(toTags(cmd.Labels)...)
	case "labels:remove":
		hasOutcome = false
		p.RemoveLabels(toTags(cmd.Labels)...)
	default:
		res.Error = "unknown command"
		return res
	}
	if err != nil {
		res.Code = string(mission.CodeOf(err))
		res.Error = err.Error()
		return res
	}
	res.OK = true
	if hasOutcome {
		dto := toOutcomeDTO(out)
		res.Outcome = &dto
	}
	return res
}
