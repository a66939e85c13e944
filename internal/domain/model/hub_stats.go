package model

import "time"

type HubStats struct {
	TotalRooms       int           `json:"total_rooms"`
	TotalConnections int           `json:"total_connections"`
	Uptime           time.Duration `json:"uptime"`
	Rooms            []RoomStats   `json:"rooms,omitempty"`
}

type RoomStats struct {
	DiagramID string `json:"diagram_id"`
	Members   int    `json:"members"`
}
