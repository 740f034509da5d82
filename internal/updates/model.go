package updates

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidTeamID indicates that a team identifier is empty or exceeds storage bounds.
	ErrInvalidTeamID = errors.New("updates: invalid team id")
	// ErrInvalidCategory indicates an unknown update category.
	ErrInvalidCategory = errors.New("updates: invalid category")
	// ErrEmptyText indicates an update body with no content.
	ErrEmptyText = errors.New("updates: empty text")
	// ErrInvalidMedia indicates a media attachment whose fields do not match its kind.
	ErrInvalidMedia = errors.New("updates: invalid media attachment")
)

// TeamID represents a validated team identifier.
type TeamID string

// NewTeamID validates raw input and returns a TeamID.
func NewTeamID(rawInput string) (TeamID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTeamID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTeamID, maxIdentifierLength)
	}
	return TeamID(trimmed), nil
}

// String returns the underlying string identifier.
func (id TeamID) String() string {
	return string(id)
}

// Category enumerates the fixed set of update categories.
type Category string

const (
	CategoryTeam    Category = "team"
	CategoryLife    Category = "life"
	CategoryWin     Category = "win"
	CategoryBlocker Category = "blocker"
)

// NewCategory validates raw input and returns a Category.
func NewCategory(rawInput string) (Category, error) {
	switch Category(strings.TrimSpace(rawInput)) {
	case CategoryTeam:
		return CategoryTeam, nil
	case CategoryLife:
		return CategoryLife, nil
	case CategoryWin:
		return CategoryWin, nil
	case CategoryBlocker:
		return CategoryBlocker, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, rawInput)
	}
}

// MediaKind tags the media attachment variant.
type MediaKind string

const (
	MediaNone  MediaKind = "none"
	MediaAudio MediaKind = "audio"
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Media is a closed tagged union: each kind carries exactly the fields
// that are meaningful for it. Construct values through NoMedia,
// AudioMedia, ImageMedia or VideoMedia rather than struct literals.
type Media struct {
	Kind            MediaKind `json:"kind"`
	Payload         string    `json:"payload,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	SizeBytes       int64     `json:"size_bytes,omitempty"`
}

// NoMedia returns the empty media variant.
func NoMedia() Media {
	return Media{Kind: MediaNone}
}

// AudioMedia returns an audio attachment with its recorded duration.
func AudioMedia(payload string, duration time.Duration, sizeBytes int64) Media {
	return Media{
		Kind:            MediaAudio,
		Payload:         payload,
		DurationSeconds: duration.Seconds(),
		SizeBytes:       sizeBytes,
	}
}

// ImageMedia returns an image attachment.
func ImageMedia(payload string, sizeBytes int64) Media {
	return Media{Kind: MediaImage, Payload: payload, SizeBytes: sizeBytes}
}

// VideoMedia returns a video attachment.
func VideoMedia(payload string, sizeBytes int64) Media {
	return Media{Kind: MediaVideo, Payload: payload, SizeBytes: sizeBytes}
}

// Validate rejects attachments whose fields do not belong to their kind.
func (m Media) Validate() error {
	switch m.Kind {
	case MediaNone:
		if m.Payload != "" || m.DurationSeconds != 0 || m.SizeBytes != 0 {
			return fmt.Errorf("%w: kind none carries no payload", ErrInvalidMedia)
		}
	case MediaAudio:
		if m.Payload == "" {
			return fmt.Errorf("%w: audio requires a payload", ErrInvalidMedia)
		}
	case MediaImage, MediaVideo:
		if m.Payload == "" {
			return fmt.Errorf("%w: %s requires a payload", ErrInvalidMedia, m.Kind)
		}
		if m.DurationSeconds != 0 {
			return fmt.Errorf("%w: duration only valid for audio", ErrInvalidMedia)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMedia, m.Kind)
	}
	return nil
}

// Location holds a privacy-randomized coordinate attached to an update.
// The true coordinate never reaches this type; randomization happens in
// the geo package before an update is assembled.
type Location struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Label     string  `json:"label,omitempty"`
	AccuracyM float64 `json:"accuracy_m,omitempty"`
}

// Update is an immutable record of one team status post. Identity for
// deduplication is the canonical server-assigned ID; provisional
// entries carry a client-generated ID and Provisional=true until the
// write path confirms them.
type Update struct {
	ID             string    `json:"id"`
	TeamID         string    `json:"team_id"`
	AuthorID       string    `json:"author_id"`
	AuthorName     string    `json:"author_name"`
	AuthorEmoji    string    `json:"author_emoji,omitempty"`
	AuthorPhotoURL string    `json:"author_photo_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Category       Category  `json:"category"`
	Text           string    `json:"text"`
	Media          Media     `json:"media"`
	Location       *Location `json:"location,omitempty"`
	ClientToken    string    `json:"client_token,omitempty"`
	Provisional    bool      `json:"-"`
}

// DayKey returns the calendar-day bucket for the update, derived from
// CreatedAt in UTC.
func (u Update) DayKey() string {
	return DayKey(u.CreatedAt)
}

// DayKey formats a timestamp as its YYYY-MM-DD calendar bucket in UTC.
// The zero time yields an empty key so unparsable timestamps group
// together instead of failing.
func DayKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// Validate checks the fields a well-formed update must carry.
func (u Update) Validate() error {
	if _, err := NewTeamID(u.TeamID); err != nil {
		return err
	}
	if _, err := NewCategory(string(u.Category)); err != nil {
		return err
	}
	if strings.TrimSpace(u.Text) == "" {
		return ErrEmptyText
	}
	return u.Media.Validate()
}
