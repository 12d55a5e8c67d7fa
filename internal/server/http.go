package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"MissionCore/internal/catalog"
	"MissionCore/internal/game"
	"MissionCore/internal/mission"
)

/* ------------------------------- HTTP ------------------------------- */

// Handler returns the HTTP routes of the service.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/missions", a.handleMissions)
	mux.HandleFunc("GET /api/missions/{ref}", a.handleMission)
	mux.HandleFunc("GET /api/validate", a.handleValidate)
	mux.HandleFunc("POST /api/reload", a.handleReload)
	mux.HandleFunc("GET /api/rooms", a.handleRooms)
	mux.HandleFunc("GET /api/rooms/{room}/players/{player}/missions", a.handlePlayerMissions)
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		serveWS(a, w, r)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch mission.CodeOf(err) {
	case mission.CodeNotFound:
		status = http.StatusNotFound
	case mission.CodeUnauthorized:
		status = http.StatusForbidden
	case mission.CodeConditionsNotMet, mission.CodeInvalidState:
		status = http.StatusConflict
	case mission.CodeConfigurationError:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"code": string(mission.CodeOf(err)), "error": err.Error()})
}

func (a *App) handleMissions(w http.ResponseWriter, r *http.Request) {
	reg := a.Catalog.Registry()
	defs := reg.Definitions()
	out := make([]missionDTO, 0, len(defs))
	for _, def := range defs {
		out = append(out, toMissionDTO(reg, def))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleMission(w http.ResponseWriter, r *http.Request) {
	reg := a.Catalog.Registry()
	ref := r.PathValue("ref")
	def, ok := reg.Lookup(ref)
	if !ok {
		writeError(w, mission.Errorf(mission.CodeNotFound, "mission %q not found", ref))
		return
	}
	writeJSON(w, http.StatusOK, toMissionDTO(reg, def))
}

func (a *App) handleValidate(w http.ResponseWriter, r *http.Request) {
	issues := catalog.Validate(a.Catalog.Registry())
	status := http.StatusOK
	if catalog.HasErrors(issues) {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, toIssueDTOs(issues))
}

func (a *App) handleReload(w http.ResponseWriter, r *http.Request) {
	reloaded, report, err := a.Reload(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := reloadDTO{Reloaded: reloaded, Missions: a.Catalog.Registry().Len()}
	for _, s := range report.Skipped {
		out.Skipped = append(out.Skipped, s.Table+"/"+s.Name+": "+s.Reason)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleRooms(w http.ResponseWriter, r *http.Request) {
	ids := a.Hub.RoomIDs()
	out := make([]roomDTO, 0, len(ids))
	for _, id := range ids {
		if room, ok := a.Hub.Room(id); ok {
			out = append(out, roomDTO{ID: id, Players: room.PlayerCount()})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handlePlayerMissions(w http.ResponseWriter, r *http.Request) {
	room, ok := a.Hub.Room(r.PathValue("room"))
	if !ok {
		writeError(w, mission.Errorf(mission.CodeNotFound, "room %q not found", r.PathValue("room")))
		return
	}
	p, ok := room.Player(r.PathValue("player"))
	if !ok {
		writeError(w, mission.Errorf(mission.CodeNotFound, "player %q not found", r.PathValue("player")))
		return
	}
	reg := a.Catalog.Registry()
	records := p.Store.Snapshot()
	out := make([]recordDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordDTO(reg, rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func isRoomFull(err error) bool {
	return errors.Is(err, game.ErrRoomFull)
}
