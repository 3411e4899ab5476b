package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"buzzmaster/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type upsertUserRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
}

// handleUpsertUser registers a player by external identity. Posting the same
// external_id again refreshes the name and returns the existing row.
func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	if !s.enforceRateLimit(w, r, "user_upsert") {
		return
	}
	var req upsertUserRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	req.Name = strings.TrimSpace(req.Name)
	if req.ExternalID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "external_id and name are required")
		return
	}

	var user db.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		user = db.User{ExternalID: req.ExternalID, Name: req.Name}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.Assignments(map[string]any{"name": req.Name}),
		}).Create(&user).Error; err != nil {
			return err
		}
		// Re-read so the conflict path still returns the stored id and score.
		return tx.Where("external_id = ?", req.ExternalID).First(&user).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	log.Printf("user upserted user_id=%d external_id=%s", user.ID, user.ExternalID)
	writeJSON(w, http.StatusOK, userSnapshot(&user, nil))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var user db.User
	var trophies []db.UserTrophy
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errNotFound("user not found")
			}
			return err
		}
		return tx.Where("user_id = ? AND visible = ?", userID, true).
			Order("created_at ASC, id ASC").
			Find(&trophies).Error
	})
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userSnapshot(&user, trophies))
}

func userSnapshot(user *db.User, trophies []db.UserTrophy) map[string]any {
	collection := make([]map[string]any, 0, len(trophies))
	for i := range trophies {
		collection = append(collection, map[string]any{
			"token":    trophies[i].RewardToken,
			"trophyId": trophies[i].TrophyID,
			"playerId": trophies[i].PlayerID,
			"wonAt":    trophies[i].CreatedAt,
		})
	}
	return map[string]any{
		"id":         user.ID,
		"externalId": user.ExternalID,
		"name":       user.Name,
		"score":      user.Score,
		"trophies":   collection,
	}
}
