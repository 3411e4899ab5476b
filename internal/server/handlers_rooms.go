package server

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"buzzmaster/internal/db"

	qrcode "github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

type createRoomRequest struct {
	Name string `json:"name"`
}

type joinRoomRequest struct {
	UserID uint `json:"user_id"`
}

func loadRoomByCode(tx *gorm.DB, code string) (*db.Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, errBadRequest("room code is required")
	}
	var room db.Room
	if err := tx.Where("join_code = ?", code).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNotFound("room not found")
		}
		return nil, err
	}
	return &room, nil
}

func roomSnapshot(room *db.Room, members []db.User) map[string]any {
	memberList := make([]map[string]any, 0, len(members))
	for i := range members {
		memberList = append(memberList, map[string]any{
			"id":    members[i].ID,
			"name":  members[i].Name,
			"score": members[i].Score,
		})
	}
	return map[string]any{
		"id":       room.ID,
		"name":     room.Name,
		"joinCode": room.JoinCode,
		"status":   room.Status,
		"members":  memberList,
	}
}

func roomMembers(tx *gorm.DB, roomID uint) ([]db.User, error) {
	var members []db.User
	err := tx.Joins("JOIN memberships ON memberships.user_id = users.id").
		Where("memberships.room_id = ?", roomID).
		Order("memberships.joined_at ASC, memberships.id ASC").
		Find(&members).Error
	return members, err
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "room_create") {
		return
	}
	var req createRoomRequest
	if err := readJSON(r.Body, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	room := db.Room{
		Name:     strings.TrimSpace(req.Name),
		JoinCode: newJoinCode(),
		Status:   roomStatusWaiting,
	}
	if err := s.db.Create(&room).Error; err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("room created room_id=%d join_code=%s", room.ID, room.JoinCode)
	writeJSON(w, http.StatusCreated, roomSnapshot(&room, nil))
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	var room *db.Room
	var members []db.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		room, err = loadRoomByCode(tx, r.PathValue("code"))
		if err != nil {
			return err
		}
		members, err = roomMembers(tx, room.ID)
		return err
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomSnapshot(room, members))
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	if !s.enforceRateLimit(w, r, "room_join") {
		return
	}
	var req joinRoomRequest
	if err := readJSON(r.Body, &req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	var room *db.Room
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		room, err = loadRoomByCode(tx, r.PathValue("code"))
		if err != nil {
			return err
		}
		var user db.User
		if err := tx.First(&user, req.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errNotFound("user not found")
			}
			return err
		}
		var existing int64
		if err := tx.Model(&db.Membership{}).
			Where("room_id = ? AND user_id = ?", room.ID, user.ID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errConflict("already in room")
		}
		membership := db.Membership{
			RoomID:   room.ID,
			UserID:   user.ID,
			JoinedAt: time.Now().UTC(),
		}
		return tx.Create(&membership).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("room joined room_id=%d user_id=%d", room.ID, req.UserID)
	writeJSON(w, http.StatusOK, map[string]any{
		"roomId": room.ID,
		"userId": req.UserID,
	})
}

// handleRoomQR renders the join URL as a QR code for the lobby screen.
func (s *Server) handleRoomQR(w http.ResponseWriter, r *http.Request) {
	room, err := loadRoomByCode(s.db, r.PathValue("code"))
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	joinURL := strings.TrimSuffix(s.cfg.PublicBaseURL, "/") + "/join/" + room.JoinCode
	png, err := qrcode.Encode(joinURL, qrcode.Medium, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render qr code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleRoomScores(w http.ResponseWriter, r *http.Request) {
	var members []db.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		room, err := loadRoomByCode(tx, r.PathValue("code"))
		if err != nil {
			return err
		}
		return tx.Joins("JOIN memberships ON memberships.user_id = users.id").
			Where("memberships.room_id = ?", room.ID).
			Order("users.score DESC, users.id ASC").
			Find(&members).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	scores := make([]map[string]any, 0, len(members))
	for i := range members {
		scores = append(scores, map[string]any{
			"userId": members[i].ID,
			"name":   members[i].Name,
			"score":  members[i].Score,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"scores": scores})
}

// handleRoomEvents returns the persisted broadcast log so a client that
// missed websocket frames can rebuild its view.
func (s *Server) handleRoomEvents(w http.ResponseWriter, r *http.Request) {
	var records []db.Event
	err := s.db.Transaction(func(tx *gorm.DB) error {
		room, err := loadRoomByCode(tx, r.PathValue("code"))
		if err != nil {
			return err
		}
		return tx.Where("room_id = ?", room.ID).
			Order("created_at ASC, id ASC").
			Find(&records).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	events := make([]map[string]any, 0, len(records))
	for _, record := range records {
		events = append(events, map[string]any{
			"id":        record.ID,
			"type":      record.Type,
			"payload":   record.Payload,
			"createdAt": record.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleStartCompetition opens a fresh competition for a room, implicitly
// ending whichever one was active before.
func (s *Server) handleStartCompetition(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "competition_start") {
		return
	}
	var competition db.Competition
	err := s.db.Transaction(func(tx *gorm.DB) error {
		room, err := loadRoomByCode(tx, r.PathValue("code"))
		if err != nil {
			return err
		}
		if err := tx.Model(&db.Competition{}).
			Where("room_id = ? AND status = ?", room.ID, competitionActive).
			Update("status", competitionEnded).Error; err != nil {
			return err
		}
		if room.Status != roomStatusActive {
			if err := tx.Model(&db.Room{}).Where("id = ?", room.ID).
				Update("status", roomStatusActive).Error; err != nil {
				return err
			}
		}
		competition = db.Competition{
			RoomID: room.ID,
			Status: competitionActive,
		}
		return tx.Create(&competition).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("competition started competition_id=%d room_id=%d", competition.ID, competition.RoomID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     competition.ID,
		"roomId": competition.RoomID,
		"status": competition.Status,
	})
}

func (s *Server) handleEndCompetition(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "competition_end") {
		return
	}
	competitionID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid competition id")
		return
	}
	var competition *db.Competition
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		competition, err = loadCompetition(tx, competitionID)
		if err != nil {
			return err
		}
		if competition.Status != competitionActive {
			return errConflict("competition already ended")
		}
		competition.Status = competitionEnded
		return tx.Model(&db.Competition{}).Where("id = ?", competitionID).
			Update("status", competitionEnded).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("competition ended competition_id=%d", competitionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     competition.ID,
		"roomId": competition.RoomID,
		"status": competition.Status,
	})
}
