package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"buzzmaster/internal/db"

	"gorm.io/gorm"
)

type startRoundRequest struct {
	HasTimer       bool  `json:"has_timer"`
	TimerDuration  int   `json:"timer_duration"`
	TrophyID       *uint `json:"trophy_id"`
	PlayerTrophyID *uint `json:"player_trophy_id"`
}

type pressRequest struct {
	UserID uint `json:"user_id"`
}

type evaluateRequest struct {
	IsCorrect bool `json:"is_correct"`
	Points    int  `json:"points"`
}

func (s *Server) handleStartRound(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "round_start") {
		return
	}
	competitionID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid competition id")
		return
	}
	var req startRoundRequest
	_ = readJSON(r.Body, &req)
	if req.HasTimer && req.TimerDuration <= 0 {
		writeError(w, http.StatusBadRequest, "timer_duration must be positive")
		return
	}

	var round db.Round
	var roomID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		competition, err := loadCompetition(tx, competitionID)
		if err != nil {
			return err
		}
		if competition.Status != competitionActive {
			return errConflict("competition is not active")
		}
		if _, err := activeRound(tx, competitionID); err == nil {
			return errConflict("round already active")
		} else if !isNotFound(err) {
			return err
		}
		roomID = competition.RoomID
		round = db.Round{
			CompetitionID:       competitionID,
			StartedAt:           time.Now().UTC(),
			ButtonsEnabled:      false,
			HasTimer:            req.HasTimer,
			TimerDuration:       req.TimerDuration,
			TrophyID:            req.TrophyID,
			PlayerTrophyID:      req.PlayerTrophyID,
			ThumbGameResponders: emptyIDList(),
			ThumbGameUsedBy:     emptyIDList(),
		}
		return tx.Create(&round).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("round started round_id=%d competition_id=%d has_timer=%t", round.ID, competitionID, round.HasTimer)
	writeJSON(w, http.StatusCreated, roundSnapshot(&round, nil))
	s.publishToRoom(roomID, "round:started", roundSnapshot(&round, nil))
}

func (s *Server) handleEnableButtons(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "buttons") {
		return
	}
	competitionID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid competition id")
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
		round.ButtonsEnabled = true
		return tx.Model(&db.Round{}).Where("id = ?", round.ID).
			Update("buttons_enabled", true).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("buttons enabled round_id=%d", round.ID)
	writeJSON(w, http.StatusOK, roundSnapshot(round, nil))
	s.publishToRoom(roomID, "buttons:enabled", map[string]any{"roundId": round.ID})
}

// handleDisableButtons resets the buzzer contest: the queue is cleared and
// any bound trophy is detached, so re-enabling starts fresh.
func (s *Server) handleDisableButtons(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "buttons") {
		return
	}
	competitionID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid competition id")
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
		if err := tx.Where("round_id = ?", round.ID).Delete(&db.Press{}).Error; err != nil {
			return err
		}
		updates := map[string]any{
			"buttons_enabled":  false,
			"trophy_id":        nil,
			"player_trophy_id": nil,
			"winner_user_id":   nil,
			"timer_ends_at":    nil,
		}
		if err := tx.Model(&db.Round{}).Where("id = ?", round.ID).Updates(updates).Error; err != nil {
			return err
		}
		round.ButtonsEnabled = false
		round.TrophyID = nil
		round.PlayerTrophyID = nil
		round.WinnerUserID = nil
		round.TimerEndsAt = nil
		return nil
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("buttons disabled round_id=%d", round.ID)
	writeJSON(w, http.StatusOK, roundSnapshot(round, nil))
	s.publishToRoom(roomID, "buttons:disabled", map[string]any{"roundId": round.ID})
	s.publishToRoom(roomID, "presses:cleared", map[string]any{"roundId": round.ID})
}

func (s *Server) handlePress(w http.ResponseWriter, r *http.Request) {
	if !s.enforceRateLimit(w, r, "press") {
		return
	}
	competitionID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid competition id")
		return
	}
	var req pressRequest
	if err := readJSON(r.Body, &req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var press db.Press
	var round *db.Round
	var roomID uint
	var first bool
	var queueLength int64
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
		if !round.ButtonsEnabled {
			return errConflict("buttons are disabled")
		}
		var user db.User
		if err := tx.First(&user, req.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errNotFound("user not found")
			}
			return err
		}
		// First-press detection works off a fresh read inside the
		// transaction; the (round, user) unique index is the backstop
		// against a double press racing past the check.
		var existing int64
		if err := tx.Model(&db.Press{}).
			Where("round_id = ? AND user_id = ?", round.ID, user.ID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errConflict("already pressed this round")
		}
		if err := tx.Model(&db.Press{}).
			Where("round_id = ?", round.ID).
			Count(&queueLength).Error; err != nil {
			return err
		}
		first = queueLength == 0
		now := time.Now().UTC()
		press = db.Press{
			RoundID:   round.ID,
			UserID:    user.ID,
			PressedAt: now,
		}
		if err := tx.Create(&press).Error; err != nil {
			return err
		}
		queueLength++
		if first {
			// Guarded write: two racing first presses both see an empty
			// queue, but only one claims the still-null winner column.
			result := tx.Model(&db.Round{}).
				Where("id = ? AND winner_user_id IS NULL", round.ID).
				Update("winner_user_id", press.UserID)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				first = false
				return nil
			}
			round.WinnerUserID = &press.UserID
			if err := armPressTimer(tx, round, &press, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("press recorded round_id=%d user_id=%d first=%t", press.RoundID, press.UserID, first)
	writeJSON(w, http.StatusCreated, pressSnapshot(&press))
	payload := pressSnapshot(&press)
	payload["queueLength"] = queueLength
	s.publishToRoom(roomID, "press:new", payload)
	if first {
		s.publishToRoom(roomID, "round:started", roundSnapshot(round, []db.Press{press}))
	}
}

func (s *Server) handleEvaluatePress(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "evaluate") {
		return
	}
	pressID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid press id")
		return
	}
	var req evaluateRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "is_correct and points are required")
		return
	}

	var press db.Press
	var round db.Round
	var roomID uint
	var awarded bool
	var awardedToken string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&press, pressID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errNotFound("press not found")
			}
			return err
		}
		if err := tx.First(&round, press.RoundID).Error; err != nil {
			return err
		}
		competition, err := loadCompetition(tx, round.CompetitionID)
		if err != nil {
			return err
		}
		roomID = competition.RoomID
		if err := adjustScore(tx, press.UserID, req.Points); err != nil {
			return err
		}
		if !req.IsCorrect {
			return nil
		}
		if err := tx.Where("round_id = ?", round.ID).Delete(&db.Press{}).Error; err != nil {
			return err
		}
		if rw, bound := boundReward(round.TrophyID, round.PlayerTrophyID); bound {
			awarded, err = s.awardRewardOnce(tx, press.UserID, rw)
			if err != nil {
				return err
			}
			awardedToken = rw.token()
		}
		updates := map[string]any{
			"buttons_enabled":  false,
			"trophy_id":        nil,
			"player_trophy_id": nil,
			"timer_ends_at":    nil,
		}
		return tx.Model(&db.Round{}).Where("id = ?", round.ID).Updates(updates).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("press evaluated press_id=%d user_id=%d correct=%t points=%d", press.ID, press.UserID, req.IsCorrect, req.Points)
	writeJSON(w, http.StatusOK, map[string]any{
		"pressId":   press.ID,
		"userId":    press.UserID,
		"isCorrect": req.IsCorrect,
		"points":    req.Points,
	})
	if req.IsCorrect {
		s.publishToRoom(roomID, "buttons:disabled", map[string]any{"roundId": round.ID})
		s.publishToRoom(roomID, "presses:cleared", map[string]any{"roundId": round.ID})
	}
	s.publishToRoom(roomID, "scores:updated", map[string]any{"userId": press.UserID})
	s.publishToRoom(roomID, "press:evaluated", map[string]any{
		"pressId":   press.ID,
		"userId":    press.UserID,
		"isCorrect": req.IsCorrect,
		"points":    req.Points,
	})
	if awarded {
		s.publishToRoom(roomID, "trophy:won", map[string]any{
			"userId":      press.UserID,
			"rewardToken": awardedToken,
		})
	}
}

// handleGiveToNext advances the buzzer queue after a wrong answer: the
// current holder's press is deleted, the chronologically next presser
// becomes the winner, and the outgoing user pays the fixed penalty.
func (s *Server) handleGiveToNext(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "give_to_next") {
		return
	}
	pressID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid press id")
		return
	}

	var current db.Press
	var next db.Press
	var round db.Round
	var roomID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&current, pressID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errNotFound("press not found")
			}
			return err
		}
		if err := tx.First(&round, current.RoundID).Error; err != nil {
			return err
		}
		competition, err := loadCompetition(tx, round.CompetitionID)
		if err != nil {
			return err
		}
		roomID = competition.RoomID
		err = tx.Where("round_id = ? AND user_id <> ? AND (pressed_at > ? OR (pressed_at = ? AND id > ?))",
			round.ID, current.UserID, current.PressedAt, current.PressedAt, current.ID).
			Order("pressed_at ASC, id ASC").
			First(&next).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errNotFound("no one else in queue")
			}
			return err
		}
		if err := tx.Delete(&db.Press{}, current.ID).Error; err != nil {
			return err
		}
		round.WinnerUserID = &next.UserID
		if err := tx.Model(&db.Round{}).Where("id = ?", round.ID).
			Update("winner_user_id", next.UserID).Error; err != nil {
			return err
		}
		if err := armPressTimer(tx, &round, &next, time.Now().UTC()); err != nil {
			return err
		}
		return adjustScore(tx, current.UserID, -s.cfg.GiveToNextPenalty)
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("queue advanced round_id=%d from_user=%d to_user=%d", round.ID, current.UserID, next.UserID)
	writeJSON(w, http.StatusOK, pressSnapshot(&next))
	s.publishToRoom(roomID, "round:started", roundSnapshot(&round, []db.Press{next}))
	s.publishToRoom(roomID, "scores:updated", map[string]any{"userId": current.UserID})
}

func (s *Server) handleEndRound(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "round_end") {
		return
	}
	competitionID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid competition id")
		return
	}

	var round *db.Round
	var roomID uint
	var winnerID *uint
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
		presses, err := orderedPresses(tx, round.ID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		updates := map[string]any{
			"ended_at":          now,
			"buttons_enabled":   false,
			"thumb_game_active": false,
		}
		if len(presses) > 0 {
			winner := presses[0].UserID
			winnerID = &winner
			updates["winner_user_id"] = winner
			if err := adjustScore(tx, winner, s.cfg.RoundWinPoints); err != nil {
				return err
			}
		}
		if err := tx.Model(&db.Round{}).Where("id = ?", round.ID).Updates(updates).Error; err != nil {
			return err
		}
		round.EndedAt = &now
		round.WinnerUserID = winnerID
		return nil
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("round ended round_id=%d winner=%v", round.ID, winnerID)
	writeJSON(w, http.StatusOK, roundSnapshot(round, nil))
	s.publishToRoom(roomID, "round:ended", map[string]any{
		"roundId":      round.ID,
		"winnerUserId": winnerID,
	})
	if winnerID != nil {
		s.publishToRoom(roomID, "scores:updated", map[string]any{"userId": *winnerID})
	}
}

func (s *Server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	competitionID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid competition id")
		return
	}
	var round *db.Round
	var presses []db.Press
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := loadCompetition(tx, competitionID); err != nil {
			return err
		}
		var err error
		round, err = activeRound(tx, competitionID)
		if err != nil {
			return err
		}
		presses, err = orderedPresses(tx, round.ID)
		return err
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roundSnapshot(round, presses))
}
