package model

// RoomInfo describes a room on join_success replies and stats.
type RoomInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}
