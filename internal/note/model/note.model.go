package model

import "errors"

var (
	ErrNotFound     = errors.New("note not found")
	ErrEmptyContent = errors.New("content cannot be empty")
)

type Note struct {
	ID       int64  `json:"id"`
	ClientID string `json:"client_id,omitempty"`
	Content  string `json:"content"`
	Created  int64  `json:"created"`
	Updated  int64  `json:"updated"`
}

type CreateNoteRequest struct {
	ClientID string `json:"client_id"`
	Content  string `json:"content"`
	Created  int64  `json:"created"`
	Updated  int64  `json:"updated"`
}

type UpdateNoteRequest struct {
	Content string `json:"content"`
	Updated int64  `json:"updated"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Devices int    `json:"devices"`
}
