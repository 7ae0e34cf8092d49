package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document categories.
const (
	CategoryPrimaryDeck    = "primary-deck"
	CategoryTranscript     = "transcript"
	CategoryCorrespondence = "correspondence"
	CategoryUpdate         = "update"
)

// Categories lists every accepted document category.
var Categories = []string{CategoryPrimaryDeck, CategoryTranscript, CategoryCorrespondence, CategoryUpdate}

// ValidCategory reports whether c is a known document category.
func ValidCategory(c string) bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Document is the extracted text of one uploaded file.
type Document struct {
	ID        string
	EntityID  string
	Category  string
	Filename  string
	DocIndex  int
	Content   string
	CreatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
