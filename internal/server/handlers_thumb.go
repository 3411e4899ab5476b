package server

import (
	"log"
	"net/http"

	"buzzmaster/internal/db"

	"gorm.io/gorm"
)

type thumbRequest struct {
	UserID uint `json:"user_id"`
}

// A thumb war is a quick side-duel nested inside the active round: one
// member starts it (once per round per user), the others respond, and the
// slowest responder pays a point.
func (s *Server) handleThumbStart(w http.ResponseWriter, r *http.Request) {
	if !s.enforceRateLimit(w, r, "thumb_start") {
		return
	}
	competitionID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid competition id")
		return
	}
	var req thumbRequest
	if err := readJSON(r.Body, &req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var round *db.Round
	var roomID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		competition, err := loadCompetition(tx, competitionID)
		if err != nil {
			return err
		}
		roomID = competition.RoomID
		round, err = activeRound(tx, competitionID)
		if err != nil {
			return err
		}
		if round.ThumbGameActive {
			return errConflict("thumb war already in progress")
		}
		members, err := roomMemberIDs(tx, roomID)
		if err != nil {
			return err
		}
		if !containsID(members, req.UserID) {
			return errConflict("user is not a room member")
		}
		usedBy := decodeIDs(round.ThumbGameUsedBy)
		if containsID(usedBy, req.UserID) {
			return errConflict("thumb war already used this round")
		}
		usedBy = append(usedBy, req.UserID)
		updates := map[string]any{
			"thumb_game_active":     true,
			"thumb_game_starter_id": req.UserID,
			"thumb_game_responders": emptyIDList(),
			"thumb_game_used_by":    encodeIDs(usedBy),
		}
		return tx.Model(&db.Round{}).Where("id = ?", round.ID).Updates(updates).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("thumb war started round_id=%d starter=%d", round.ID, req.UserID)
	writeJSON(w, http.StatusOK, map[string]any{
		"roundId":   round.ID,
		"starterId": req.UserID,
	})
	s.publishToRoom(roomID, "thumb-game:started", map[string]any{
		"roundId":   round.ID,
		"starterId": req.UserID,
	})
}

func (s *Server) handleThumbRespond(w http.ResponseWriter, r *http.Request) {
	if !s.enforceRateLimit(w, r, "thumb_respond") {
		return
	}
	competitionID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid competition id")
		return
	}
	var req thumbRequest
	if err := readJSON(r.Body, &req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var round *db.Round
	var roomID uint
	var finished bool
	var loserID uint
	var responderCount int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		competition, err := loadCompetition(tx, competitionID)
		if err != nil {
			return err
		}
		roomID = competition.RoomID
		round, err = activeRound(tx, competitionID)
		if err != nil {
			return err
		}
		if !round.ThumbGameActive {
			return errConflict("no thumb war in progress")
		}
		if round.ThumbGameStarterID != nil && *round.ThumbGameStarterID == req.UserID {
			return errConflict("starter cannot respond")
		}
		members, err := roomMemberIDs(tx, roomID)
		if err != nil {
			return err
		}
		if !containsID(members, req.UserID) {
			return errConflict("user is not a room member")
		}
		responders := decodeIDs(round.ThumbGameResponders)
		if containsID(responders, req.UserID) {
			return errConflict("already responded")
		}
		responders = append(responders, req.UserID)
		responderCount = len(responders)
		updates := map[string]any{
			"thumb_game_responders": encodeIDs(responders),
		}
		// All other members in: the duel resolves, last one in loses.
		if responderCount >= len(members)-1 {
			finished = true
			loserID = responders[len(responders)-1]
			updates["thumb_game_active"] = false
			if err := adjustScore(tx, loserID, -s.cfg.ThumbWarPenalty); err != nil {
				return err
			}
		}
		return tx.Model(&db.Round{}).Where("id = ?", round.ID).Updates(updates).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roundId":    round.ID,
		"userId":     req.UserID,
		"responders": responderCount,
		"finished":   finished,
	})
	if finished {
		log.Printf("thumb war ended round_id=%d loser=%d", round.ID, loserID)
		s.publishToRoom(roomID, "thumb-game:ended", map[string]any{
			"roundId": round.ID,
			"loserId": loserID,
		})
		s.publishToRoom(roomID, "scores:updated", map[string]any{"userId": loserID})
		return
	}
	s.publishToRoom(roomID, "thumb-game:updated", map[string]any{
		"roundId":    round.ID,
		"userId":     req.UserID,
		"responders": responderCount,
	})
}

// handleThumbEnd lets the admin cut a stalled duel short. With at least one
// responder the last one still pays; with none, nobody does.
func (s *Server) handleThumbEnd(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "thumb_end") {
		return
	}
	competitionID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid competition id")
		return
	}

	var round *db.Round
	var roomID uint
	var loserID *uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		competition, err := loadCompetition(tx, competitionID)
		if err != nil {
			return err
		}
		roomID = competition.RoomID
		round, err = activeRound(tx, competitionID)
		if err != nil {
			return err
		}
		if !round.ThumbGameActive {
			return errConflict("no thumb war in progress")
		}
		responders := decodeIDs(round.ThumbGameResponders)
		if len(responders) > 0 {
			loser := responders[len(responders)-1]
			loserID = &loser
			if err := adjustScore(tx, loser, -s.cfg.ThumbWarPenalty); err != nil {
				return err
			}
		}
		return tx.Model(&db.Round{}).Where("id = ?", round.ID).
			Update("thumb_game_active", false).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("thumb war ended round_id=%d loser=%v", round.ID, loserID)
	writeJSON(w, http.StatusOK, map[string]any{
		"roundId": round.ID,
		"loserId": loserID,
	})
	s.publishToRoom(roomID, "thumb-game:ended", map[string]any{
		"roundId": round.ID,
		"loserId": loserID,
	})
	if loserID != nil {
		s.publishToRoom(roomID, "scores:updated", map[string]any{"userId": *loserID})
	}
}
