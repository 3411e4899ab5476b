package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"buzzmaster/internal/db"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const challengeUpdateRetries = 3

// errStaleChallenge signals that another writer bumped the version token
// between our read and write; the whole transaction is retried.
var errStaleChallenge = errors.New("stale challenge version")

type startChallengeRequest struct {
	Type    string          `json:"type"`
	RoundID *uint           `json:"round_id"`
	Config  json.RawMessage `json:"config"`
}

type betRequest struct {
	UserID       uint `json:"user_id"`
	AllIn        bool `json:"all_in"`
	CurrentScore int  `json:"current_score"`
}

type eliminationRequest struct {
	UserID    uint  `json:"user_id"`
	Bricks    int   `json:"bricks"`
	Score     int   `json:"score"`
	ElapsedMs int64 `json:"elapsed_ms"`
}

func loadChallenge(tx *gorm.DB, id uint) (*db.Challenge, error) {
	var challenge db.Challenge
	if err := tx.First(&challenge, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNotFound("challenge not found")
		}
		return nil, err
	}
	return &challenge, nil
}

// casChallenge applies updates only if the version token is unchanged since
// the read. The caller retries the surrounding transaction on staleness.
func casChallenge(tx *gorm.DB, challenge *db.Challenge, updates map[string]any) error {
	updates["version"] = challenge.Version + 1
	result := tx.Model(&db.Challenge{}).
		Where("id = ? AND version = ?", challenge.ID, challenge.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errStaleChallenge
	}
	return nil
}

// handleStartChallenge opens a new room-scoped elimination contest. Any
// prior active challenge in the room is ended first; at most one challenge
// per room is ever active.
func (s *Server) handleStartChallenge(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if !s.enforceRateLimit(w, r, "challenge_start") {
		return
	}
	code := r.PathValue("code")
	var req startChallengeRequest
	if err := readJSON(r.Body, &req); err != nil || req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	configJSON := datatypes.JSON(req.Config)
	if len(configJSON) == 0 {
		configJSON = emptyObject()
	}

	var challenge db.Challenge
	err := s.db.Transaction(func(tx *gorm.DB) error {
		room, err := loadRoomByCode(tx, code)
		if err != nil {
			return err
		}
		if err := tx.Model(&db.Challenge{}).
			Where("room_id = ? AND status = ?", room.ID, challengeActive).
			Update("status", challengeEnded).Error; err != nil {
			return err
		}
		members, err := roomMemberIDs(tx, room.ID)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return errBadRequest("room has no members")
		}
		challenge = db.Challenge{
			RoomID:  room.ID,
			RoundID: req.RoundID,
			Type:    req.Type,
			Status:  challengeActive,
			Alive:   encodeIDs(members),
			Results: emptyObject(),
			Bets:    emptyObject(),
			Config:  configJSON,
		}
		return tx.Create(&challenge).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("challenge started challenge_id=%d room_id=%d type=%s participants=%d",
		challenge.ID, challenge.RoomID, challenge.Type, len(decodeIDs(challenge.Alive)))
	writeJSON(w, http.StatusCreated, challengeSnapshot(&challenge))
	s.publishToRoom(challenge.RoomID, "challenge:started", challengeSnapshot(&challenge))
}

func (s *Server) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	if !s.enforceRateLimit(w, r, "bet") {
		return
	}
	challengeID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid challenge id")
		return
	}
	var req betRequest
	if err := readJSON(r.Body, &req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var challenge *db.Challenge
	var err error
	for attempt := 0; attempt < challengeUpdateRetries; attempt++ {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			challenge, err = loadChallenge(tx, challengeID)
			if err != nil {
				return err
			}
			if challenge.Status != challengeActive {
				return errConflict("challenge is not active")
			}
			if !containsID(decodeIDs(challenge.Alive), req.UserID) {
				return errConflict("user is not participating in this challenge")
			}
			bets := decodeBets(challenge.Bets)
			bets[userKey(req.UserID)] = challengeBet{
				AllIn:        req.AllIn,
				CurrentScore: req.CurrentScore,
			}
			return casChallenge(tx, challenge, map[string]any{
				"bets": encodeJSON(bets),
			})
		})
		if !errors.Is(err, errStaleChallenge) {
			break
		}
	}
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("bet placed challenge_id=%d user_id=%d all_in=%t", challengeID, req.UserID, req.AllIn)
	writeJSON(w, http.StatusOK, map[string]any{
		"challengeId": challengeID,
		"userId":      req.UserID,
		"allIn":       req.AllIn,
	})
	s.publishToRoom(challenge.RoomID, "challenge:betPlaced", map[string]any{
		"challengeId": challengeID,
		"userId":      req.UserID,
		"allIn":       req.AllIn,
	})
}

// handleEliminate records a participant's self-reported elimination. The
// challenge ends, ranks, and settles bets inside the same transaction that
// flips its status, so settlement runs exactly once even under retries.
func (s *Server) handleEliminate(w http.ResponseWriter, r *http.Request) {
	if !s.enforceRateLimit(w, r, "eliminate") {
		return
	}
	challengeID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid challenge id")
		return
	}
	var req eliminationRequest
	if err := readJSON(r.Body, &req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var challenge *db.Challenge
	var ended bool
	var alreadyReported bool
	var remaining int
	var ranking []rankedParticipant
	var err error
	for attempt := 0; attempt < challengeUpdateRetries; attempt++ {
		ended, alreadyReported = false, false
		ranking = nil
		err = s.db.Transaction(func(tx *gorm.DB) error {
			challenge, err = loadChallenge(tx, challengeID)
			if err != nil {
				return err
			}
			if challenge.Status != challengeActive {
				return errConflict("challenge is not active")
			}
			results := decodeResults(challenge.Results)
			if _, reported := results[userKey(req.UserID)]; reported {
				alreadyReported = true
				return nil
			}
			alive := decodeIDs(challenge.Alive)
			if !containsID(alive, req.UserID) {
				return errConflict("user is not alive in this challenge")
			}
			results[userKey(req.UserID)] = challengeResult{
				EliminatedAt: time.Now().UTC(),
				Bricks:       req.Bricks,
				Score:        req.Score,
				ElapsedMs:    req.ElapsedMs,
			}
			alive = removeID(alive, req.UserID)
			remaining = len(alive)
			updates := map[string]any{
				"alive":   encodeIDs(alive),
				"results": encodeJSON(results),
			}
			if challengeOver(remaining, decodeConfig(challenge.Config).ChillMode) {
				ended = true
				ranking = rankParticipants(alive, results)
				if err := settleChallenge(tx, ranking, decodeBets(challenge.Bets)); err != nil {
					return err
				}
				updates["status"] = challengeEnded
			}
			return casChallenge(tx, challenge, updates)
		})
		if !errors.Is(err, errStaleChallenge) {
			break
		}
	}
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	if alreadyReported {
		writeJSON(w, http.StatusOK, challengeSnapshot(challenge))
		return
	}
	log.Printf("challenge elimination challenge_id=%d user_id=%d remaining=%d ended=%t",
		challengeID, req.UserID, remaining, ended)
	writeJSON(w, http.StatusOK, map[string]any{
		"challengeId":    challengeID,
		"userId":         req.UserID,
		"remainingAlive": remaining,
		"ended":          ended,
	})
	s.publishToRoom(challenge.RoomID, "challenge:playerEliminated", map[string]any{
		"challengeId":    challengeID,
		"userId":         req.UserID,
		"remainingAlive": remaining,
	})
	if ended {
		s.publishToRoom(challenge.RoomID, "challenge:ended", map[string]any{
			"challengeId": challengeID,
			"ranking":     ranking,
		})
		s.publishToRoom(challenge.RoomID, "scores:updated", map[string]any{
			"challengeId": challengeID,
		})
	}
}

func (s *Server) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	challengeID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid challenge id")
		return
	}
	challenge, err := loadChallenge(s.db, challengeID)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeSnapshot(challenge))
}
