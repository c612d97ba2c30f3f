package store

import "time"

// Room is a row of the rooms table. State holds the merged document
// snapshot written by the relay; Title mirrors the document's meta.title.
type Room struct {
	ID        string
	Slug      string
	Title     string
	State     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}
