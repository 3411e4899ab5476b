package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"buzzmaster/internal/db"

	"gorm.io/gorm"
)

type startCategoryGameRequest struct {
	WinnerPoints   int   `json:"winner_points"`
	TrophyID       *uint `json:"trophy_id"`
	PlayerTrophyID *uint `json:"player_trophy_id"`
}

type categoryNextRequest struct {
	EliminateCurrentPlayer *bool `json:"eliminate_current_player"`
}

func loadCategoryGame(tx *gorm.DB, id uint) (*db.CategoryGame, error) {
	var game db.CategoryGame
	if err := tx.First(&game, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNotFound("category game not found")
		}
		return nil, err
	}
	return &game, nil
}

func (s *Server) handleStartCategoryGame(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "category_start") {
		return
	}
	competitionID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid competition id")
		return
	}
	var req startCategoryGameRequest
	_ = readJSON(r.Body, &req)
	winnerPoints := req.WinnerPoints
	if winnerPoints <= 0 {
		winnerPoints = s.cfg.CategoryWinnerPoints
	}

	var game db.CategoryGame
	var roomID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		competition, err := loadCompetition(tx, competitionID)
		if err != nil {
			return err
		}
		if competition.Status != competitionActive {
			return errConflict("competition is not active")
		}
		roomID = competition.RoomID
		var running int64
		if err := tx.Model(&db.CategoryGame{}).
			Where("competition_id = ? AND status = ?", competitionID, categoryGameActive).
			Count(&running).Error; err != nil {
			return err
		}
		if running > 0 {
			return errConflict("category game already active")
		}
		members, err := roomMemberIDs(tx, roomID)
		if err != nil {
			return err
		}
		if len(members) < 2 {
			return errBadRequest("at least two room members are required")
		}
		order := shuffleTurnOrder(members)
		now := time.Now().UTC()
		first := order[0]
		game = db.CategoryGame{
			CompetitionID:     competitionID,
			Status:            categoryGameActive,
			TurnOrder:         encodeIDs(order),
			EliminatedPlayers: emptyIDList(),
			CurrentPlayerID:   &first,
			CurrentTurnIndex:  0,
			TimerStartedAt:    &now,
			WinnerPoints:      winnerPoints,
			TrophyID:          req.TrophyID,
			PlayerTrophyID:    req.PlayerTrophyID,
		}
		return tx.Create(&game).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("category game started game_id=%d competition_id=%d players=%d", game.ID, competitionID, len(decodeIDs(game.TurnOrder)))
	writeJSON(w, http.StatusCreated, categoryGameSnapshot(&game))
	s.publishToRoom(roomID, "category-game:started", categoryGameSnapshot(&game))
}

// handleCategoryNextPlayer advances the turn, by default eliminating the
// current holder first. The single-survivor check runs before any circular
// index arithmetic so the last elimination completes the game cleanly.
func (s *Server) handleCategoryNextPlayer(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "category_next") {
		return
	}
	gameID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid category game id")
		return
	}
	var req categoryNextRequest
	_ = readJSON(r.Body, &req)
	eliminate := req.EliminateCurrentPlayer == nil || *req.EliminateCurrentPlayer

	var game *db.CategoryGame
	var roomID uint
	var completed bool
	var remaining int
	var awarded bool
	var awardedToken string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		game, err = loadCategoryGame(tx, gameID)
		if err != nil {
			return err
		}
		if game.Status != categoryGameActive {
			return errConflict("category game is not active")
		}
		competition, err := loadCompetition(tx, game.CompetitionID)
		if err != nil {
			return err
		}
		roomID = competition.RoomID
		if game.CurrentPlayerID == nil {
			return errConflict("no current player")
		}
		current := *game.CurrentPlayerID
		turnOrder := decodeIDs(game.TurnOrder)
		eliminated := decodeIDs(game.EliminatedPlayers)
		if eliminate && !containsID(eliminated, current) {
			eliminated = append(eliminated, current)
		}
		active := activePlayers(turnOrder, eliminated)
		remaining = len(active)
		if remaining == 0 {
			return errConflict("no active players remain")
		}
		now := time.Now().UTC()
		if remaining == 1 {
			completed = true
			winner := active[0]
			if err := adjustScore(tx, winner, game.WinnerPoints); err != nil {
				return err
			}
			if rw, bound := boundReward(game.TrophyID, game.PlayerTrophyID); bound {
				awarded, err = s.awardRewardOnce(tx, winner, rw)
				if err != nil {
					return err
				}
				awardedToken = rw.token()
			}
			updates := map[string]any{
				"status":             categoryGameCompleted,
				"eliminated_players": encodeIDs(eliminated),
				"winner_id":          winner,
				"current_player_id":  winner,
				"is_paused":          true,
				"timer_paused_at":    now,
			}
			if err := tx.Model(&db.CategoryGame{}).Where("id = ?", game.ID).Updates(updates).Error; err != nil {
				return err
			}
			game.Status = categoryGameCompleted
			game.EliminatedPlayers = encodeIDs(eliminated)
			game.WinnerID = &winner
			game.CurrentPlayerID = &winner
			game.IsPaused = true
			game.TimerPausedAt = &now
			return nil
		}
		next, index, found := nextActivePlayer(turnOrder, eliminated, current)
		if !found {
			return errConflict("no active players remain")
		}
		updates := map[string]any{
			"eliminated_players": encodeIDs(eliminated),
			"current_player_id":  next,
			"current_turn_index": index,
			"timer_started_at":   now,
			"timer_paused_at":    nil,
			"is_paused":          false,
		}
		if err := tx.Model(&db.CategoryGame{}).Where("id = ?", game.ID).Updates(updates).Error; err != nil {
			return err
		}
		game.EliminatedPlayers = encodeIDs(eliminated)
		game.CurrentPlayerID = &next
		game.CurrentTurnIndex = index
		game.TimerStartedAt = &now
		game.TimerPausedAt = nil
		game.IsPaused = false
		return nil
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categoryGameSnapshot(game))
	if completed {
		log.Printf("category game completed game_id=%d winner=%v", game.ID, game.WinnerID)
		s.publishToRoom(roomID, "category-game:completed", categoryGameSnapshot(game))
		s.publishToRoom(roomID, "scores:updated", map[string]any{"userId": *game.WinnerID})
		if awarded {
			s.publishToRoom(roomID, "trophy:won", map[string]any{
				"userId":      *game.WinnerID,
				"rewardToken": awardedToken,
			})
		}
		return
	}
	log.Printf("category game advanced game_id=%d current=%v remaining=%d", game.ID, game.CurrentPlayerID, remaining)
	s.publishToRoom(roomID, "category-game:next-player", map[string]any{
		"gameId":           game.ID,
		"currentPlayerId":  game.CurrentPlayerID,
		"remainingPlayers": remaining,
	})
}

func (s *Server) handleCategoryPause(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "category_pause") {
		return
	}
	gameID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid category game id")
		return
	}
	var game *db.CategoryGame
	var roomID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		game, err = loadCategoryGame(tx, gameID)
		if err != nil {
			return err
		}
		if game.Status != categoryGameActive {
			return errConflict("category game is not active")
		}
		if game.IsPaused {
			return errConflict("category game already paused")
		}
		competition, err := loadCompetition(tx, game.CompetitionID)
		if err != nil {
			return err
		}
		roomID = competition.RoomID
		now := time.Now().UTC()
		elapsed := 0
		if game.TimerStartedAt != nil {
			elapsed = int(now.Sub(*game.TimerStartedAt).Seconds())
		}
		updates := map[string]any{
			"is_paused":           true,
			"timer_paused_at":     now,
			"paused_time_elapsed": gorm.Expr("paused_time_elapsed + ?", elapsed),
		}
		if err := tx.Model(&db.CategoryGame{}).Where("id = ?", game.ID).Updates(updates).Error; err != nil {
			return err
		}
		game.IsPaused = true
		game.TimerPausedAt = &now
		game.PausedTimeElapsed += elapsed
		return nil
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("category game paused game_id=%d elapsed=%d", game.ID, game.PausedTimeElapsed)
	writeJSON(w, http.StatusOK, categoryGameSnapshot(game))
	s.publishToRoom(roomID, "category-game:paused", map[string]any{
		"gameId":            game.ID,
		"pausedTimeElapsed": game.PausedTimeElapsed,
	})
}

// handleCategoryResume restarts the per-turn clock; the accumulated elapsed
// time is preserved so totals stay additive across pause cycles.
func (s *Server) handleCategoryResume(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "category_resume") {
		return
	}
	gameID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid category game id")
		return
	}
	var game *db.CategoryGame
	var roomID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		game, err = loadCategoryGame(tx, gameID)
		if err != nil {
			return err
		}
		if game.Status != categoryGameActive {
			return errConflict("category game is not active")
		}
		if !game.IsPaused {
			return errConflict("category game is not paused")
		}
		competition, err := loadCompetition(tx, game.CompetitionID)
		if err != nil {
			return err
		}
		roomID = competition.RoomID
		now := time.Now().UTC()
		updates := map[string]any{
			"is_paused":        false,
			"timer_paused_at":  nil,
			"timer_started_at": now,
		}
		if err := tx.Model(&db.CategoryGame{}).Where("id = ?", game.ID).Updates(updates).Error; err != nil {
			return err
		}
		game.IsPaused = false
		game.TimerPausedAt = nil
		game.TimerStartedAt = &now
		return nil
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("category game resumed game_id=%d", game.ID)
	writeJSON(w, http.StatusOK, categoryGameSnapshot(game))
	s.publishToRoom(roomID, "category-game:resumed", map[string]any{
		"gameId": game.ID,
	})
}

func (s *Server) handleGetCategoryGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid category game id")
		return
	}
	game, err := loadCategoryGame(s.db, gameID)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categoryGameSnapshot(game))
}
