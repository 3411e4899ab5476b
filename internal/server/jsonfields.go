package server

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// Helpers for the JSON-typed list/set columns (turn order, eliminated
// players, thumb-war responders, challenge alive set).

func emptyIDList() datatypes.JSON {
	return datatypes.JSON([]byte("[]"))
}

func emptyObject() datatypes.JSON {
	return datatypes.JSON([]byte("{}"))
}

func decodeIDs(raw datatypes.JSON) []uint {
	var ids []uint
	if len(raw) == 0 {
		return ids
	}
	_ = json.Unmarshal(raw, &ids)
	return ids
}

func encodeIDs(ids []uint) datatypes.JSON {
	if ids == nil {
		ids = []uint{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return emptyIDList()
	}
	return datatypes.JSON(data)
}

func containsID(ids []uint, id uint) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func removeID(ids []uint, id uint) []uint {
	filtered := make([]uint, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			filtered = append(filtered, candidate)
		}
	}
	return filtered
}
