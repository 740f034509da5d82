package devserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulseboardhq/pulseboard/internal/feed"
	"github.com/pulseboardhq/pulseboard/internal/updates"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// UpdateRecord is the persisted form of one team update in the demo
// backend.
type UpdateRecord struct {
	UpdateID       string  `gorm:"column:update_id;primaryKey;size:190;not null"`
	TeamID         string  `gorm:"column:team_id;size:190;not null;index:idx_updates_team_created,priority:1"`
	AuthorID       string  `gorm:"column:author_id;size:190;not null"`
	AuthorName     string  `gorm:"column:author_name;size:190;not null;default:''"`
	AuthorEmoji    string  `gorm:"column:author_emoji;size:32;not null;default:''"`
	AuthorPhotoURL string  `gorm:"column:author_photo_url;not null;default:''"`
	CreatedAtMs    int64   `gorm:"column:created_at_ms;not null;index:idx_updates_team_created,priority:2"`
	Category       string  `gorm:"column:category;size:32;not null"`
	Text           string  `gorm:"column:body;type:text;not null"`
	MediaKind      string  `gorm:"column:media_kind;size:16;not null;default:'none'"`
	MediaPayload   string  `gorm:"column:media_payload;type:text;not null;default:''"`
	MediaDurationS float64 `gorm:"column:media_duration_s;not null;default:0"`
	MediaSizeBytes int64   `gorm:"column:media_size_bytes;not null;default:0"`
	HasLocation    bool    `gorm:"column:has_location;not null;default:false"`
	Lat            float64 `gorm:"column:lat;not null;default:0"`
	Lng            float64 `gorm:"column:lng;not null;default:0"`
	LocationLabel  string  `gorm:"column:location_label;not null;default:''"`
	AccuracyM      float64 `gorm:"column:accuracy_m;not null;default:0"`
	ClientToken    string  `gorm:"column:client_token;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (UpdateRecord) TableName() string {
	return "team_updates"
}

// StoreConfig bundles the dependencies of the demo update store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider updates.IDProvider
	Logger     *zap.Logger
}

// Store persists team updates for the development backend and assigns
// canonical identifiers.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider updates.IDProvider
	logger     *zap.Logger
}

// NewStore constructs the store with validated configuration.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = updates.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, idProvider: idProvider, logger: logger}, nil
}

// CreateUpdate validates the draft, assigns a canonical identifier and
// persists the update. The draft's client token is echoed back on the
// canonical entry so the submitting client can reconcile exactly.
func (s *Store) CreateUpdate(ctx context.Context, teamID string, draft feed.Draft) (updates.Update, error) {
	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock()
	}
	createdAt = createdAt.UTC()

	canonicalID, err := s.idProvider.NewID()
	if err != nil {
		return updates.Update{}, fmt.Errorf("devserver: id generation: %w", err)
	}

	update := updates.Update{
		ID:             canonicalID,
		TeamID:         teamID,
		AuthorID:       draft.Author.ID,
		AuthorName:     draft.Author.Name,
		AuthorEmoji:    draft.Author.Emoji,
		AuthorPhotoURL: draft.Author.PhotoURL,
		CreatedAt:      createdAt,
		Category:       draft.Category,
		Text:           draft.Text,
		Media:          draft.Media,
		Location:       draft.Location,
		ClientToken:    draft.ClientToken,
	}
	if err := update.Validate(); err != nil {
		return updates.Update{}, err
	}

	record := toRecord(update)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logger.Error("update insert failed", zap.String("team_id", teamID), zap.Error(err))
		return updates.Update{}, fmt.Errorf("devserver: insert update: %w", err)
	}
	return update, nil
}

// ListUpdates returns a team's updates newest first.
func (s *Store) ListUpdates(ctx context.Context, teamID string) ([]updates.Update, error) {
	var records []UpdateRecord
	if err := s.db.WithContext(ctx).
		Where("team_id = ?", teamID).
		Order("created_at_ms DESC").
		Find(&records).Error; err != nil {
		s.logger.Error("update query failed", zap.String("team_id", teamID), zap.Error(err))
		return nil, fmt.Errorf("devserver: list updates: %w", err)
	}

	listed := make([]updates.Update, 0, len(records))
	for _, record := range records {
		listed = append(listed, fromRecord(record))
	}
	return listed, nil
}

func toRecord(update updates.Update) UpdateRecord {
	record := UpdateRecord{
		UpdateID:       update.ID,
		TeamID:         update.TeamID,
		AuthorID:       update.AuthorID,
		AuthorName:     update.AuthorName,
		AuthorEmoji:    update.AuthorEmoji,
		AuthorPhotoURL: update.AuthorPhotoURL,
		CreatedAtMs:    update.CreatedAt.UnixMilli(),
		Category:       string(update.Category),
		Text:           update.Text,
		MediaKind:      string(update.Media.Kind),
		MediaPayload:   update.Media.Payload,
		MediaDurationS: update.Media.DurationSeconds,
		MediaSizeBytes: update.Media.SizeBytes,
		ClientToken:    update.ClientToken,
	}
	if update.Location != nil {
		record.HasLocation = true
		record.Lat = update.Location.Lat
		record.Lng = update.Location.Lng
		record.LocationLabel = update.Location.Label
		record.AccuracyM = update.Location.AccuracyM
	}
	return record
}

func fromRecord(record UpdateRecord) updates.Update {
	update := updates.Update{
		ID:             record.UpdateID,
		TeamID:         record.TeamID,
		AuthorID:       record.AuthorID,
		AuthorName:     record.AuthorName,
		AuthorEmoji:    record.AuthorEmoji,
		AuthorPhotoURL: record.AuthorPhotoURL,
		CreatedAt:      time.UnixMilli(record.CreatedAtMs).UTC(),
		Category:       updates.Category(record.Category),
		Text:           record.Text,
		Media: updates.Media{
			Kind:            updates.MediaKind(record.MediaKind),
			Payload:         record.MediaPayload,
			DurationSeconds: record.MediaDurationS,
			SizeBytes:       record.MediaSizeBytes,
		},
		ClientToken: record.ClientToken,
	}
	if record.HasLocation {
		update.Location = &updates.Location{
			Lat:       record.Lat,
			Lng:       record.Lng,
			Label:     record.LocationLabel,
			AccuracyM: record.AccuracyM,
		}
	}
	return update
}
