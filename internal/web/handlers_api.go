package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"kobold-bridge/internal/api"
	"kobold-bridge/internal/reconcile"
	"kobold-bridge/internal/robot"
)

// RobotView is a robot identity merged with its live state for API clients.
type RobotView struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Serial     string             `json:"serial"`
	ModelName  string             `json:"model_name"`
	Firmware   string             `json:"firmware"`
	Timezone   string             `json:"timezone"`
	Connection string             `json:"connection"`
	FanSpeed   string             `json:"fan_speed"`
	State      reconcile.Snapshot `json:"state"`
}

func (s *Server) robotView(info api.Robot) RobotView {
	view := RobotView{
		ID:        info.ID,
		Name:      info.Name,
		Serial:    info.Serial,
		ModelName: info.ModelName,
		Firmware:  info.Firmware,
		Timezone:  info.Timezone,
	}
	if snap, err := s.mgr.Snapshot(info.ID); err == nil {
		view.State = snap
	}
	if cs, err := s.mgr.ConnectionState(info.ID); err == nil {
		view.Connection = cs.String()
	}
	if speed, err := s.mgr.FanSpeed(info.ID); err == nil {
		view.FanSpeed = speed
	}
	return view
}

func (s *Server) handleAPIListRobots(w http.ResponseWriter, r *http.Request) {
	robots := s.mgr.Robots()
	views := make([]RobotView, 0, len(robots))
	for _, info := range robots {
		views = append(views, s.robotView(info))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetRobot(w http.ResponseWriter, r *http.Request) {
	info, err := s.mgr.Robot(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "robot not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.robotView(info))
}

func (s *Server) handleAPIGetState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.mgr.Snapshot(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "robot not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAPIGetMaps(w http.ResponseWriter, r *http.Request) {
	maps, err := s.mgr.Maps(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "robot not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, maps)
}

func (s *Server) handleAPIGetZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.mgr.Zones(r.PathValue("id"), r.PathValue("floorplan"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "robot not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, zones)
}

func (s *Server) handleAPIGetCleaning(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	show, err := s.mgr.SessionStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, robot.ErrUnknownRobot) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "robot not found"})
			return
		}
		s.logger.Error("fetch cleaning session", "robot_id", id, "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "cloud request failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, show)
}

type commandRequest struct {
	Command string `json:"command"`
	Arg     string `json:"arg,omitempty"`
}

func (s *Server) handleAPICommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req commandRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Command == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "command must not be empty"})
		return
	}

	err := s.mgr.Command(r.Context(), id, req.Command, req.Arg)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "command": req.Command})
	case errors.Is(err, robot.ErrUnknownRobot):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "robot not found"})
	case errors.Is(err, robot.ErrUnknownCommand), errors.Is(err, robot.ErrUnknownZone):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("command failed", "robot_id", id, "command", req.Command, "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "cloud request failed"})
	}
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
