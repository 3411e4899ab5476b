package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestShuffleTurnOrderIsPermutation(t *testing.T) {
	ids := []uint{1, 2, 3, 4, 5}
	order := shuffleTurnOrder(ids)
	if len(order) != len(ids) {
		t.Fatalf("length = %d, want %d", len(order), len(ids))
	}
	for _, id := range ids {
		if !containsID(order, id) {
			t.Errorf("id %d missing from shuffled order %v", id, order)
		}
	}
	// Input must not be mutated.
	for i, id := range []uint{1, 2, 3, 4, 5} {
		if ids[i] != id {
			t.Fatalf("input mutated: %v", ids)
		}
	}
}

func TestNextActivePlayer(t *testing.T) {
	turnOrder := []uint{10, 20, 30, 40}

	next, index, found := nextActivePlayer(turnOrder, nil, 10)
	if !found || next != 20 || index != 1 {
		t.Errorf("plain advance: got (%d, %d, %t), want (20, 1, true)", next, index, found)
	}

	// Wraps around the end of the order.
	next, index, found = nextActivePlayer(turnOrder, []uint{10}, 40)
	if !found || next != 20 || index != 1 {
		t.Errorf("wrap: got (%d, %d, %t), want (20, 1, true)", next, index, found)
	}

	// Skips eliminated players, including the current one.
	next, _, found = nextActivePlayer(turnOrder, []uint{20, 30}, 20)
	if !found || next != 40 {
		t.Errorf("skip eliminated: got (%d, %t), want (40, true)", next, found)
	}

	// Everyone out.
	_, _, found = nextActivePlayer(turnOrder, []uint{10, 20, 30, 40}, 10)
	if found {
		t.Errorf("expected no active player")
	}
}

func TestActivePlayersPreservesOrder(t *testing.T) {
	active := activePlayers([]uint{3, 1, 2}, []uint{1})
	if len(active) != 2 || active[0] != 3 || active[1] != 2 {
		t.Errorf("active = %v, want [3 2]", active)
	}
}

func startCategoryGame(t *testing.T, ts *httptest.Server, competitionID uint, body map[string]any) map[string]any {
	t.Helper()
	status, game := postJSON(t, ts, fmt.Sprintf("/api/competitions/%d/category-game", competitionID), body)
	if status != http.StatusCreated {
		t.Fatalf("start category game: status %d body %v", status, game)
	}
	return game
}

func turnOrderOf(t *testing.T, game map[string]any) []uint {
	t.Helper()
	raw, _ := game["turnOrder"].([]any)
	order := make([]uint, 0, len(raw))
	for _, v := range raw {
		order = append(order, asID(t, v))
	}
	return order
}

func TestCategoryGameNeedsTwoPlayers(t *testing.T) {
	_, ts := newTestServer(t)
	code, _ := setupRoom(t, ts, 1)
	competitionID := startCompetition(t, ts, code)
	status, body := postJSON(t, ts, fmt.Sprintf("/api/competitions/%d/category-game", competitionID), nil)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d body %v, want 400", status, body)
	}
}

func TestCategoryGameOnePerCompetition(t *testing.T) {
	_, ts := newTestServer(t)
	code, _ := setupRoom(t, ts, 2)
	competitionID := startCompetition(t, ts, code)
	startCategoryGame(t, ts, competitionID, nil)
	status, body := postJSON(t, ts, fmt.Sprintf("/api/competitions/%d/category-game", competitionID), nil)
	if status != http.StatusConflict {
		t.Fatalf("second start: status %d body %v, want 409", status, body)
	}
}

func TestCategoryGameFullRotation(t *testing.T) {
	srv, ts := newTestServer(t)
	code, _ := setupRoom(t, ts, 3)
	competitionID := startCompetition(t, ts, code)
	game := startCategoryGame(t, ts, competitionID, nil)
	gameID := asID(t, game["id"])
	order := turnOrderOf(t, game)
	if len(order) != 3 {
		t.Fatalf("turn order length = %d, want 3", len(order))
	}
	if got := asID(t, game["currentPlayerId"]); got != order[0] {
		t.Fatalf("first player = %d, want %d", got, order[0])
	}

	// Eliminate the current player twice; the survivor wins.
	status, body := postJSON(t, ts, fmt.Sprintf("/api/category-games/%d/next", gameID), nil)
	if status != http.StatusOK {
		t.Fatalf("first next: status %d body %v", status, body)
	}
	if body["status"] != categoryGameActive {
		t.Fatalf("status after first elimination = %v", body["status"])
	}
	if got := asID(t, body["currentPlayerId"]); got != order[1] {
		t.Errorf("current = %d, want %d", got, order[1])
	}

	status, body = postJSON(t, ts, fmt.Sprintf("/api/category-games/%d/next", gameID), nil)
	if status != http.StatusOK {
		t.Fatalf("second next: status %d body %v", status, body)
	}
	if body["status"] != categoryGameCompleted {
		t.Fatalf("status = %v, want completed", body["status"])
	}
	winner := asID(t, body["winnerId"])
	if winner != order[2] {
		t.Errorf("winner = %d, want last survivor %d", winner, order[2])
	}
	if got := userScore(t, srv, winner); got != 5 {
		t.Errorf("winner score = %d, want 5", got)
	}

	// A completed game rejects further advances.
	status, _ = postJSON(t, ts, fmt.Sprintf("/api/category-games/%d/next", gameID), nil)
	if status != http.StatusConflict {
		t.Errorf("next on completed game: status %d, want 409", status)
	}
}

func TestCategoryGameRotateWithoutElimination(t *testing.T) {
	_, ts := newTestServer(t)
	code, _ := setupRoom(t, ts, 3)
	competitionID := startCompetition(t, ts, code)
	game := startCategoryGame(t, ts, competitionID, nil)
	gameID := asID(t, game["id"])
	order := turnOrderOf(t, game)

	eliminate := false
	for i := 1; i <= 3; i++ {
		status, body := postJSON(t, ts, fmt.Sprintf("/api/category-games/%d/next", gameID), map[string]any{
			"eliminate_current_player": &eliminate,
		})
		if status != http.StatusOK {
			t.Fatalf("next %d: status %d body %v", i, status, body)
		}
		want := order[i%3]
		if got := asID(t, body["currentPlayerId"]); got != want {
			t.Errorf("turn %d current = %d, want %d", i, got, want)
		}
	}
}

func TestCategoryGamePauseResume(t *testing.T) {
	_, ts := newTestServer(t)
	code, _ := setupRoom(t, ts, 2)
	competitionID := startCompetition(t, ts, code)
	game := startCategoryGame(t, ts, competitionID, nil)
	gameID := asID(t, game["id"])

	status, body := postJSON(t, ts, fmt.Sprintf("/api/category-games/%d/pause", gameID), nil)
	if status != http.StatusOK {
		t.Fatalf("pause: status %d body %v", status, body)
	}
	if body["isPaused"] != true {
		t.Errorf("isPaused = %v, want true", body["isPaused"])
	}

	status, _ = postJSON(t, ts, fmt.Sprintf("/api/category-games/%d/pause", gameID), nil)
	if status != http.StatusConflict {
		t.Errorf("double pause: status %d, want 409", status)
	}

	status, body = postJSON(t, ts, fmt.Sprintf("/api/category-games/%d/resume", gameID), nil)
	if status != http.StatusOK {
		t.Fatalf("resume: status %d body %v", status, body)
	}
	if body["isPaused"] != false {
		t.Errorf("isPaused after resume = %v, want false", body["isPaused"])
	}
	if body["timerStartedAt"] == nil {
		t.Errorf("timer should restart on resume")
	}

	status, _ = postJSON(t, ts, fmt.Sprintf("/api/category-games/%d/resume", gameID), nil)
	if status != http.StatusConflict {
		t.Errorf("double resume: status %d, want 409", status)
	}
}
