package server

import (
	"net/http"

	"buzzmaster/internal/config"

	"gorm.io/gorm"
)

// Server wires the broadcast hub, the database, and the HTTP surface. The
// hub is the only cross-request in-process state; every game-state read and
// write goes through the database.
type Server struct {
	db      *gorm.DB
	hub     *hub
	cfg     config.Config
	limiter *rateLimiter
}

func New(conn *gorm.DB, cfg config.Config) *Server {
	return &Server{
		db:      conn,
		hub:     newHub(),
		cfg:     cfg,
		limiter: newRateLimiter(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebsocket)

	mux.HandleFunc("POST /api/users", s.handleUpsertUser)
	mux.HandleFunc("GET /api/users/{id}", s.handleGetUser)

	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms/{code}", s.handleGetRoom)
	mux.HandleFunc("POST /api/rooms/{code}/join", s.handleJoinRoom)
	mux.HandleFunc("GET /api/rooms/{code}/qr", s.handleRoomQR)
	mux.HandleFunc("GET /api/rooms/{code}/scores", s.handleRoomScores)
	mux.HandleFunc("GET /api/rooms/{code}/events", s.handleRoomEvents)
	mux.HandleFunc("POST /api/rooms/{code}/competitions", s.handleStartCompetition)
	mux.HandleFunc("POST /api/rooms/{code}/challenges", s.handleStartChallenge)

	mux.HandleFunc("POST /api/competitions/{id}/end", s.handleEndCompetition)
	mux.HandleFunc("POST /api/competitions/{id}/rounds", s.handleStartRound)
	mux.HandleFunc("GET /api/competitions/{id}/rounds/current", s.handleCurrentRound)
	mux.HandleFunc("POST /api/competitions/{id}/rounds/end", s.handleEndRound)
	mux.HandleFunc("POST /api/competitions/{id}/buttons/enable", s.handleEnableButtons)
	mux.HandleFunc("POST /api/competitions/{id}/buttons/disable", s.handleDisableButtons)
	mux.HandleFunc("POST /api/competitions/{id}/press", s.handlePress)
	mux.HandleFunc("POST /api/competitions/{id}/category-game", s.handleStartCategoryGame)
	mux.HandleFunc("POST /api/competitions/{id}/thumb-game/start", s.handleThumbStart)
	mux.HandleFunc("POST /api/competitions/{id}/thumb-game/respond", s.handleThumbRespond)
	mux.HandleFunc("POST /api/competitions/{id}/thumb-game/end", s.handleThumbEnd)

	mux.HandleFunc("POST /api/presses/{id}/evaluate", s.handleEvaluatePress)
	mux.HandleFunc("POST /api/presses/{id}/next", s.handleGiveToNext)

	mux.HandleFunc("GET /api/category-games/{id}", s.handleGetCategoryGame)
	mux.HandleFunc("POST /api/category-games/{id}/next", s.handleCategoryNextPlayer)
	mux.HandleFunc("POST /api/category-games/{id}/pause", s.handleCategoryPause)
	mux.HandleFunc("POST /api/category-games/{id}/resume", s.handleCategoryResume)

	mux.HandleFunc("GET /api/challenges/{id}", s.handleGetChallenge)
	mux.HandleFunc("POST /api/challenges/{id}/bets", s.handlePlaceBet)
	mux.HandleFunc("POST /api/challenges/{id}/eliminations", s.handleEliminate)

	return mux
}
