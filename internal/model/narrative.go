package model

import (
	"regexp"
	"time"
)

// Embedding is a generated text vector with its provenance.
type Embedding struct {
	Vector      []float32 `json:"vector"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Narrative is a stakeable narrative record.
type Narrative struct {
	ID          int64     `json:"token_id"`
	Creator     string    `json:"creator"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags,omitempty"`
	Modality    string    `json:"modality"`
	Embedding   []float32 `json:"embedding,omitempty"`
	EmbedModel  string    `json:"embedding_model,omitempty"`
	MetadataURI string    `json:"metadata_uri"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Text returns the text an embedding of n is generated from.
func (n Narrative) Text() string {
	if n.Description == "" {
		return n.Name
	}
	return n.Name + " " + n.Description
}

// ValidModalities are the allowed narrative modalities.
var ValidModalities = map[string]bool{
	"text":       true,
	"image":      true,
	"video":      true,
	"audio":      true,
	"mixed":      true,
	"multimodal": true,
}

// Narrative statuses.
const (
	StatusActive   = "active"
	StatusFlagged  = "flagged"
	StatusArchived = "archived"
)

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether s is a 0x-prefixed 20-byte hex wallet address.
func ValidAddress(s string) bool {
	return addressRe.MatchString(s)
}
