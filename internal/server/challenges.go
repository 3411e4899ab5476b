package server

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"buzzmaster/internal/db"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// rankPointTable maps finishing places 1-4 to points; anything beyond earns
// a single consolation point.
var rankPointTable = []int{10, 6, 4, 2}

type challengeResult struct {
	EliminatedAt time.Time `json:"eliminatedAt"`
	Bricks       int       `json:"bricks"`
	Score        int       `json:"score"`
	ElapsedMs    int64     `json:"elapsedMs"`
}

type challengeBet struct {
	AllIn        bool `json:"allIn"`
	CurrentScore int  `json:"currentScore"`
}

type challengeConfig struct {
	ChillMode bool `json:"chillMode"`
}

type rankedParticipant struct {
	UserID   uint `json:"userId"`
	Place    int  `json:"place"`
	Points   int  `json:"points"`
	Survivor bool `json:"survivor"`
	Bricks   int  `json:"bricks"`
	Score    int  `json:"score"`
}

// Challenge JSON maps are keyed by decimal user id; JSON objects only take
// string keys.
func userKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func parseUserKey(key string) uint {
	value, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return 0
	}
	return uint(value)
}

func decodeResults(raw datatypes.JSON) map[string]challengeResult {
	results := make(map[string]challengeResult)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &results)
	}
	return results
}

func decodeBets(raw datatypes.JSON) map[string]challengeBet {
	bets := make(map[string]challengeBet)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &bets)
	}
	return bets
}

func decodeConfig(raw datatypes.JSON) challengeConfig {
	var cfg challengeConfig
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &cfg)
	}
	return cfg
}

func encodeJSON(value any) datatypes.JSON {
	data, err := json.Marshal(value)
	if err != nil {
		return emptyObject()
	}
	return datatypes.JSON(data)
}

// challengeOver reports whether the alive count crossed the mode-dependent
// threshold: last one standing in normal mode, everyone done in chill mode.
func challengeOver(aliveCount int, chillMode bool) bool {
	if chillMode {
		return aliveCount == 0
	}
	return aliveCount <= 1
}

// rankParticipants orders everyone who started the challenge. Survivors get
// an effectively infinite elimination time so they always rank first; among
// the eliminated, lasting longer is better, tie-broken by bricks then score.
// Only users from the original alive snapshot (current alive + results) are
// ranked.
func rankParticipants(alive []uint, results map[string]challengeResult) []rankedParticipant {
	type entry struct {
		userID       uint
		survivor     bool
		eliminatedAt time.Time
		bricks       int
		score        int
	}
	entries := make([]entry, 0, len(alive)+len(results))
	for _, id := range alive {
		entries = append(entries, entry{userID: id, survivor: true})
	}
	for key, result := range results {
		id := parseUserKey(key)
		if id == 0 || containsID(alive, id) {
			continue
		}
		entries = append(entries, entry{
			userID:       id,
			eliminatedAt: result.EliminatedAt,
			bricks:       result.Bricks,
			score:        result.Score,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.survivor != b.survivor {
			return a.survivor
		}
		if !a.eliminatedAt.Equal(b.eliminatedAt) {
			return a.eliminatedAt.After(b.eliminatedAt)
		}
		if a.bricks != b.bricks {
			return a.bricks > b.bricks
		}
		return a.score > b.score
	})
	ranking := make([]rankedParticipant, 0, len(entries))
	for i, e := range entries {
		ranking = append(ranking, rankedParticipant{
			UserID:   e.userID,
			Place:    i + 1,
			Points:   rankPoints(i + 1),
			Survivor: e.survivor,
			Bricks:   e.bricks,
			Score:    e.score,
		})
	}
	return ranking
}

func rankPoints(place int) int {
	if place >= 1 && place <= len(rankPointTable) {
		return rankPointTable[place-1]
	}
	return 1
}

// settleChallenge applies rank points and all-in bets. An all-in winner's
// score is replaced with twice the declared pre-bet score plus first-place
// points; any other all-in bettor drops to zero. Everyone else just gains
// their rank points. Runs inside the transaction that flips the challenge
// to ended, so settlement happens exactly once.
func settleChallenge(tx *gorm.DB, ranking []rankedParticipant, bets map[string]challengeBet) error {
	for _, participant := range ranking {
		bet, hasBet := bets[userKey(participant.UserID)]
		if hasBet && bet.AllIn {
			newScore := 0
			if participant.Place == 1 {
				newScore = 2*bet.CurrentScore + participant.Points
			}
			if err := tx.Model(&db.User{}).Where("id = ?", participant.UserID).
				Update("score", newScore).Error; err != nil {
				return err
			}
			continue
		}
		if err := adjustScore(tx, participant.UserID, participant.Points); err != nil {
			return err
		}
	}
	return nil
}

func challengeSnapshot(challenge *db.Challenge) map[string]any {
	return map[string]any{
		"id":      challenge.ID,
		"roomId":  challenge.RoomID,
		"roundId": challenge.RoundID,
		"type":    challenge.Type,
		"status":  challenge.Status,
		"alive":   decodeIDs(challenge.Alive),
		"results": decodeResults(challenge.Results),
		"bets":    decodeBets(challenge.Bets),
		"config":  json.RawMessage(challenge.Config),
	}
}
