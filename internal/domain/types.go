package domain

import "time"

// ImagePart is a single image handed to the generation capability. It is
// immutable: the payload is copied on construction.
type ImagePart struct {
	mimeType string
	data     []byte
}

func NewImagePart(mimeType string, data []byte) ImagePart {
	buf := make([]byte, len(data))
	copy(buf, data)
	return ImagePart{mimeType: mimeType, data: buf}
}

func (p ImagePart) MIMEType() string { return p.mimeType }

// Data returns the payload. Callers must not modify it.
func (p ImagePart) Data() []byte { return p.data }

func (p ImagePart) Len() int { return len(p.data) }

// GenerationRequest is one instruction plus zero or more images.
type GenerationRequest struct {
	Instruction string
	Images      []ImagePart
}

// Analysis is the structured part of a per-meal model response.
type Analysis struct {
	MealName    string
	MealSummary string
}

type MealEntry struct {
	Name    string
	Summary string
}

// DayRecord is an archived, closed-out day.
type DayRecord struct {
	ID            int64
	SessionID     string
	Goal          string
	Summary       string
	GapSuggestion string
	GutHealthTip  string
	Meals         []DayMeal
	ClosedAt      time.Time
}

type DayMeal struct {
	ID       int64
	DayID    int64
	Position int
	Name     string
	Summary  string
}
