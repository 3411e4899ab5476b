package server

import (
	"math/rand/v2"

	"buzzmaster/internal/db"
)

// shuffleTurnOrder fixes the seating for the whole game with a
// Fisher–Yates shuffle. The order never changes afterwards; eliminated
// players are filtered out at read time so indices stay stable.
func shuffleTurnOrder(ids []uint) []uint {
	order := make([]uint, len(ids))
	copy(order, ids)
	for i := len(order) - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

func activePlayers(turnOrder, eliminated []uint) []uint {
	active := make([]uint, 0, len(turnOrder))
	for _, id := range turnOrder {
		if !containsID(eliminated, id) {
			active = append(active, id)
		}
	}
	return active
}

// nextActivePlayer advances circularly over the original turn order,
// starting after the current player's seat and skipping eliminated players.
// Works whether or not the current player was just eliminated. Returns the
// next player and their index in the original order.
func nextActivePlayer(turnOrder, eliminated []uint, current uint) (uint, int, bool) {
	if len(turnOrder) == 0 {
		return 0, 0, false
	}
	start := 0
	for i, id := range turnOrder {
		if id == current {
			start = i
			break
		}
	}
	for offset := 1; offset <= len(turnOrder); offset++ {
		index := (start + offset) % len(turnOrder)
		candidate := turnOrder[index]
		if !containsID(eliminated, candidate) {
			return candidate, index, true
		}
	}
	return 0, 0, false
}

func categoryGameSnapshot(game *db.CategoryGame) map[string]any {
	return map[string]any{
		"id":                game.ID,
		"competitionId":     game.CompetitionID,
		"status":            game.Status,
		"turnOrder":         decodeIDs(game.TurnOrder),
		"eliminatedPlayers": decodeIDs(game.EliminatedPlayers),
		"currentPlayerId":   game.CurrentPlayerID,
		"currentTurnIndex":  game.CurrentTurnIndex,
		"isPaused":          game.IsPaused,
		"timerStartedAt":    game.TimerStartedAt,
		"timerPausedAt":     game.TimerPausedAt,
		"pausedTimeElapsed": game.PausedTimeElapsed,
		"winnerId":          game.WinnerID,
		"winnerPoints":      game.WinnerPoints,
	}
}
