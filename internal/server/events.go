package server

import (
	"encoding/json"
	"log"

	"buzzmaster/internal/db"

	"gorm.io/datatypes"
)

// publish forwards an event envelope to every connected client. Publication
// is fire and forget: the database write that triggered it has already
// committed, so a failure here is logged and dropped, never surfaced.
func (s *Server) publish(eventType string, data map[string]any) {
	s.persistEvent(nil, eventType, data)
	if s.hub == nil {
		return
	}
	s.hub.BroadcastAll(map[string]any{
		"type": eventType,
		"data": data,
	})
}

// publishToRoom tags the payload with roomId for client-side filtering.
func (s *Server) publishToRoom(roomID uint, eventType string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	s.persistEvent(&roomID, eventType, data)
	if s.hub == nil {
		return
	}
	s.hub.BroadcastRoom(roomID, map[string]any{
		"type": eventType,
		"data": data,
	})
}

// persistEvent appends the envelope to the events table so reconnecting
// clients can refetch what they missed. Best effort, same as the broadcast.
func (s *Server) persistEvent(roomID *uint, eventType string, data map[string]any) {
	if s.db == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("event marshal failed type=%s error=%v", eventType, err)
		return
	}
	event := db.Event{
		RoomID:  roomID,
		Type:    eventType,
		Payload: datatypes.JSON(payload),
	}
	if err := s.db.Create(&event).Error; err != nil {
		log.Printf("event persist failed type=%s error=%v", eventType, err)
	}
}
