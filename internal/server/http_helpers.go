package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgconn"
)

func readJSON(body io.Reader, dest any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// httpError carries the status a state-machine precondition failure maps to.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string {
	return e.message
}

func errBadRequest(message string) error {
	return &httpError{status: http.StatusBadRequest, message: message}
}

func errConflict(message string) error {
	return &httpError{status: http.StatusConflict, message: message}
}

func errNotFound(message string) error {
	return &httpError{status: http.StatusNotFound, message: message}
}

// writeHandlerError maps a transition error to its HTTP status. Storage-level
// unique violations surface as conflicts; anything unexpected is a 500 with
// the detail kept out of the response body.
func writeHandlerError(w http.ResponseWriter, err error) {
	var he *httpError
	if errors.As(err, &he) {
		writeError(w, he.status, he.message)
		return
	}
	if isUniqueViolation(err) {
		writeError(w, http.StatusConflict, "conflicting state change")
		return
	}
	log.Printf("handler error=%v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseID(raw string) (uint, bool) {
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		return 0, false
	}
	return uint(value), true
}

func isNotFound(err error) bool {
	var he *httpError
	return errors.As(err, &he) && he.status == http.StatusNotFound
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}
	return false
}
