package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FeedSnapshot stores the last reconciled feed for a user as a single
// serialized array of notifications.
type FeedSnapshot struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FeedSnapshot) TableName() string {
	return "feed_snapshots"
}

var errMissingStoreDatabase = errors.New("notify: store database handle is required")

// FeedStore is the persistence adapter for reconciled feeds. A missing
// or unparsable snapshot loads as an empty prior feed so that storage
// corruption degrades to "fresh feed wins" instead of failing a cycle.
type FeedStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// FeedStoreConfig describes the dependencies of a FeedStore.
type FeedStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewFeedStore constructs a FeedStore.
func NewFeedStore(cfg FeedStoreConfig) (*FeedStore, error) {
	if cfg.Database == nil {
		return nil, errMissingStoreDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Load returns the persisted feed for the user, or an empty feed when no
// snapshot exists or the stored payload cannot be parsed.
func (s *FeedStore) Load(ctx context.Context, userID UserID) []Notification {
	var snapshot FeedSnapshot
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("feed snapshot load failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil
	}

	var feed []Notification
	if err := json.Unmarshal([]byte(snapshot.PayloadJSON), &feed); err != nil {
		s.logger.Warn("feed snapshot payload corrupt, treating as empty",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil
	}
	return feed
}

// Save persists the feed, replacing any previous snapshot for the user.
// The inactivity-alert archived invariant is enforced here as a final
// safety net independent of how the record entered memory.
func (s *FeedStore) Save(ctx context.Context, userID UserID, feed []Notification) error {
	stored := make([]Notification, len(feed))
	copy(stored, feed)
	enforceInactivityInvariant(stored)

	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	snapshot := FeedSnapshot{
		UserID:           userID.String(),
		PayloadJSON:      string(payload),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(&snapshot).Error
}
