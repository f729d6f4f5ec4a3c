package model

import (
	"time"

	"github.com/google/uuid"
)

// OfferState is the state of a file-transfer offer.
type OfferState int

const (
	OfferOffered OfferState = iota
	OfferAccepted
	OfferRejected
	OfferExpired
)

func (s OfferState) String() string {
	switch s {
	case OfferOffered:
		return "offered"
	case OfferAccepted:
		return "accepted"
	case OfferRejected:
		return "rejected"
	case OfferExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// FileOffer is a pending file-transfer signal between two sessions (in-memory only).
type FileOffer struct {
	ID        uuid.UUID
	Initiator int
	Target    int
	Filename  string
	Size      int64
	State     OfferState
	CreatedAt time.Time
}

// NewFileOffer creates an Offered offer stamped with now.
func NewFileOffer(initiator, target int, filename string, size int64, now time.Time) *FileOffer {
	return &FileOffer{
		ID:        uuid.New(),
		Initiator: initiator,
		Target:    target,
		Filename:  filename,
		Size:      size,
		State:     OfferOffered,
		CreatedAt: now,
	}
}
