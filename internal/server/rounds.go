package server

import (
	"errors"
	"time"

	"buzzmaster/internal/db"

	"gorm.io/gorm"
)

const (
	roomStatusWaiting = "waiting"
	roomStatusActive  = "active"

	competitionActive = "active"
	competitionEnded  = "ended"

	categoryGameActive    = "active"
	categoryGameCompleted = "completed"

	challengeActive = "active"
	challengeEnded  = "ended"
)

func loadCompetition(tx *gorm.DB, id uint) (*db.Competition, error) {
	var competition db.Competition
	if err := tx.First(&competition, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNotFound("competition not found")
		}
		return nil, err
	}
	return &competition, nil
}

// roomMemberIDs lists member user ids in join order.
func roomMemberIDs(tx *gorm.DB, roomID uint) ([]uint, error) {
	var memberships []db.Membership
	err := tx.Where("room_id = ?", roomID).
		Order("joined_at ASC, id ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(memberships))
	for _, membership := range memberships {
		ids = append(ids, membership.UserID)
	}
	return ids, nil
}

// activeRound returns the single live round of a competition, defined as the
// most recently started round with ended_at IS NULL.
func activeRound(tx *gorm.DB, competitionID uint) (*db.Round, error) {
	var round db.Round
	err := tx.Where("competition_id = ? AND ended_at IS NULL", competitionID).
		Order("started_at DESC, id DESC").
		First(&round).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNotFound("no active round")
		}
		return nil, err
	}
	return &round, nil
}

// orderedPresses is the buzzer queue: pressed_at ascending, id as tie-break.
func orderedPresses(tx *gorm.DB, roundID uint) ([]db.Press, error) {
	var presses []db.Press
	err := tx.Where("round_id = ?", roundID).
		Order("pressed_at ASC, id ASC").
		Find(&presses).Error
	return presses, err
}

// armPressTimer stamps the queue holder's expiry when the round is timed.
func armPressTimer(tx *gorm.DB, round *db.Round, press *db.Press, now time.Time) error {
	if !round.HasTimer || round.TimerDuration <= 0 {
		return nil
	}
	expiry := now.Add(time.Duration(round.TimerDuration) * time.Second)
	press.TimerExpiresAt = &expiry
	if err := tx.Model(&db.Press{}).Where("id = ?", press.ID).
		Update("timer_expires_at", expiry).Error; err != nil {
		return err
	}
	round.TimerEndsAt = &expiry
	return tx.Model(&db.Round{}).Where("id = ?", round.ID).
		Update("timer_ends_at", expiry).Error
}

func adjustScore(tx *gorm.DB, userID uint, delta int) error {
	return tx.Model(&db.User{}).Where("id = ?", userID).
		Update("score", gorm.Expr("score + ?", delta)).Error
}

func roundSnapshot(round *db.Round, presses []db.Press) map[string]any {
	queue := make([]map[string]any, 0, len(presses))
	for i := range presses {
		queue = append(queue, pressSnapshot(&presses[i]))
	}
	return map[string]any{
		"id":              round.ID,
		"competitionId":   round.CompetitionID,
		"startedAt":       round.StartedAt,
		"endedAt":         round.EndedAt,
		"buttonsEnabled":  round.ButtonsEnabled,
		"hasTimer":        round.HasTimer,
		"timerDuration":   round.TimerDuration,
		"timerEndsAt":     round.TimerEndsAt,
		"winnerUserId":    round.WinnerUserID,
		"trophyId":        round.TrophyID,
		"playerTrophyId":  round.PlayerTrophyID,
		"thumbGameActive": round.ThumbGameActive,
		"presses":         queue,
	}
}

func pressSnapshot(press *db.Press) map[string]any {
	return map[string]any{
		"id":             press.ID,
		"roundId":        press.RoundID,
		"userId":         press.UserID,
		"pressedAt":      press.PressedAt,
		"timerExpiresAt": press.TimerExpiresAt,
	}
}
