package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID             string    `bun:"id,pk" json:"id"`
	Name           string    `bun:"name,notnull" json:"name"`
	Slug           string    `bun:"slug,notnull" json:"slug"`
	Venue          string    `bun:"venue" json:"venue"`
	StartsAt       time.Time `bun:"starts_at,notnull" json:"starts_at"`
	OrganizerName  string    `bun:"organizer_name" json:"organizer_name"`
	OrganizerEmail string    `bun:"organizer_email" json:"organizer_email"`
	CreatedAt      time.Time `bun:"created_at" json:"created_at"`
}
