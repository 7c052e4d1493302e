package model

import "time"

type HubStats struct {
	TotalSessions int           `json:"total_sessions"`
	TotalRooms    int           `json:"total_rooms"`
	Uptime        time.Duration `json:"uptime"`
	Rooms         []RoomStats   `json:"rooms,omitempty"`
}

type RoomStats struct {
	RoomID       string `json:"room_id"`
	Members      int    `json:"members"`
	HistoryDepth int    `json:"history_depth"`
}
