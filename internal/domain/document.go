package domain

import (
	"fmt"
	"time"
)

// DocumentStatus represents the processing status of an ingested document
type DocumentStatus string

const (
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusOK         DocumentStatus = "ok"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is a titled unit of ingested text. Only documents in status ok
// are eligible for retrieval.
type Document struct {
	ID           string
	Title        string
	Summary      string
	Status       DocumentStatus
	ErrorMessage string
	Tags         []string
	CreatedAt    time.Time
}

// NewDocument creates a Document in status processing.
func NewDocument(id, title string, tags []string, createdAt time.Time) *Document {
	return &Document{
		ID:        id,
		Title:     title,
		Status:    DocumentStatusProcessing,
		Tags:      tags,
		CreatedAt: createdAt,
	}
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return NewDomainError(ErrCodeValidation, "document ID is required")
	}
	if d.Title == "" {
		return NewDomainError(ErrCodeValidation, "document title is required")
	}
	switch d.Status {
	case DocumentStatusProcessing, DocumentStatusOK, DocumentStatusFailed:
	default:
		return ErrInvalidDocumentStatus
	}
	return nil
}
