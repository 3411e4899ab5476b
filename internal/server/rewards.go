package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"buzzmaster/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const playerRewardPrefix = "player_"

type rewardKind int

const (
	rewardTrophy rewardKind = iota
	rewardPlayer
)

// reward is the tagged form of a reward token: either a traditional trophy
// or a collectible player acting as a reward. Tokens are parsed once at the
// boundary; handlers never sniff string prefixes themselves.
type reward struct {
	kind     rewardKind
	trophyID uint
	playerID uint
}

func parseRewardToken(token string) (reward, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return reward{}, errors.New("reward token is empty")
	}
	if raw, ok := strings.CutPrefix(token, playerRewardPrefix); ok {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return reward{}, fmt.Errorf("invalid player reward token %q", token)
		}
		return reward{kind: rewardPlayer, playerID: uint(id)}, nil
	}
	id, err := strconv.ParseUint(token, 10, 64)
	if err != nil || id == 0 {
		return reward{}, fmt.Errorf("invalid trophy token %q", token)
	}
	return reward{kind: rewardTrophy, trophyID: uint(id)}, nil
}

func (r reward) token() string {
	if r.kind == rewardPlayer {
		return playerRewardPrefix + strconv.FormatUint(uint64(r.playerID), 10)
	}
	return strconv.FormatUint(uint64(r.trophyID), 10)
}

// boundReward resolves the trophy columns a round or category game carries
// into a reward value. The player-trophy column wins when both are set.
func boundReward(trophyID, playerTrophyID *uint) (reward, bool) {
	if playerTrophyID != nil && *playerTrophyID != 0 {
		return reward{kind: rewardPlayer, playerID: *playerTrophyID}, true
	}
	if trophyID != nil && *trophyID != 0 {
		return reward{kind: rewardTrophy, trophyID: *trophyID}, true
	}
	return reward{}, false
}

// awardRewardOnce adds the reward to the user's collection. The insert is a
// no-op when the user already holds that reward, so terminal transitions may
// retry without awarding twice. Returns whether a new entry was created; the
// caller broadcasts trophy:won only in that case.
func (s *Server) awardRewardOnce(tx *gorm.DB, userID uint, rw reward) (bool, error) {
	entry := db.UserTrophy{
		UserID:      userID,
		RewardToken: rw.token(),
		Visible:     true,
	}
	switch rw.kind {
	case rewardPlayer:
		playerID := rw.playerID
		entry.PlayerID = &playerID
		// Player rewards stay hidden until placed in the dream eleven.
		entry.Visible = false
	default:
		trophyID := rw.trophyID
		entry.TrophyID = &trophyID
		var trophy db.Trophy
		if err := tx.First(&trophy, trophyID).Error; err == nil {
			entry.Visible = trophy.Category != "secret"
		}
	}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
