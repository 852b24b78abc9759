package model

import "time"

// Stage is a column on a board. Tasks reference stages but never own them.
type Stage struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	BoardID   string    `json:"board_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ProjectID string    `json:"project_id"`
	TeamID    string    `json:"team_id"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateStageInput struct {
	Name    string `json:"name"`
	BoardID string `json:"board_id"`
}

// UserSnapshot is the display subset of a user, captured by value wherever
// a point-in-time copy is needed (history payloads, hydrated tasks).
type UserSnapshot struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}
