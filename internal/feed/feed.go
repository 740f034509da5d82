package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pulseboardhq/pulseboard/internal/realtime"
	"github.com/pulseboardhq/pulseboard/internal/updates"
	"go.uber.org/zap"
)

var (
	errMissingAPI      = errors.New("update api is required")
	errMissingTeamID   = errors.New("team identifier is required")
	errMissingAuthorID = errors.New("author identifier is required")
	noOpLogger         = zap.NewNop()
)

const (
	opFeedNew    = "feed.new"
	opFeedLoad   = "feed.load"
	opFeedSubmit = "feed.submit"
)

// API is the network collaborator the coordinator writes through. A
// CreateUpdate success returns the canonical update, with the draft's
// client token echoed back for reconciliation.
type API interface {
	CreateUpdate(ctx context.Context, teamID string, draft Draft) (updates.Update, error)
	ListUpdates(ctx context.Context, teamID string, filters updates.FilterState) ([]updates.Update, error)
}

// Draft is the user's intent for one new update. A zero CreatedAt
// means "now"; a set value supports backdating. The feed stamps the
// author snapshot and correlation token before the draft goes over the
// wire.
type Draft struct {
	CreatedAt   time.Time         `json:"created_at"`
	Category    updates.Category  `json:"category"`
	Text        string            `json:"text"`
	Media       updates.Media     `json:"media"`
	Location    *updates.Location `json:"location,omitempty"`
	Author      AuthorProfile     `json:"author"`
	ClientToken string            `json:"client_token,omitempty"`
}

// AuthorProfile is the denormalized author snapshot stamped onto every
// update at post time; later profile edits do not rewrite history.
type AuthorProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Emoji    string `json:"emoji,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// FeedConfig bundles the dependencies of one team's update feed.
type FeedConfig struct {
	API        API
	TeamID     updates.TeamID
	Author     AuthorProfile
	IDProvider updates.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Feed owns the ordered update set for one mounted team view and
// reconciles optimistic local inserts with server confirmations and
// push deliveries. Exactly one Feed mutates a team's set at a time;
// the push connection it attaches to is shared process-wide.
type Feed struct {
	api        API
	teamID     string
	author     AuthorProfile
	idProvider updates.IDProvider
	clock      func() time.Time
	logger     *zap.Logger

	mu          sync.Mutex
	entries     []updates.Update
	pending     map[string]pendingSubmission
	conn        *realtime.Connection
	unsubscribe func()
}

// pendingSubmission correlates an in-flight optimistic insert with the
// canonical entry that will confirm it.
type pendingSubmission struct {
	clientToken string
	authorID    string
	createdAt   time.Time
	text        string
}

// NewFeed constructs a Feed with validated configuration.
func NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.API == nil {
		return nil, newServiceError(opFeedNew, "missing_api", errMissingAPI)
	}
	if cfg.TeamID.String() == "" {
		return nil, newServiceError(opFeedNew, "missing_team_id", errMissingTeamID)
	}
	if cfg.Author.ID == "" {
		return nil, newServiceError(opFeedNew, "missing_author_id", errMissingAuthorID)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = updates.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Feed{
		api:        cfg.API,
		teamID:     cfg.TeamID.String(),
		author:     cfg.Author,
		idProvider: idProvider,
		clock:      clock,
		logger:     logger,
		pending:    make(map[string]pendingSubmission),
	}, nil
}

// Load fetches the team's updates and replaces the local set. On
// failure the local set is left untouched and no partial data is
// shown.
func (f *Feed) Load(ctx context.Context) error {
	listed, err := f.api.ListUpdates(ctx, f.teamID, updates.FilterState{})
	if err != nil {
		f.logger.Error("feed load failed", zap.String("team_id", f.teamID), zap.Error(err))
		return newServiceError(opFeedLoad, "list_failed", err)
	}

	f.mu.Lock()
	f.entries = updates.Merge(nil, listed)
	f.mu.Unlock()
	return nil
}

// Refetch re-runs the initial fetch; it is the manual retry for a
// failed load.
func (f *Feed) Refetch(ctx context.Context) error {
	return f.Load(ctx)
}

// Snapshot returns the current merged update set, newest first.
func (f *Feed) Snapshot() []updates.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]updates.Update(nil), f.entries...)
}

// Submit posts a new update optimistically: the provisional entry is
// visible immediately, then either replaced by the canonical entry on
// write success or rolled back on failure. Failures are never retried
// here; the user resubmits.
func (f *Feed) Submit(ctx context.Context, draft Draft) error {
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = f.clock()
	}
	draft.CreatedAt = draft.CreatedAt.UTC()

	provisionalID, err := f.idProvider.NewID()
	if err != nil {
		return newServiceError(opFeedSubmit, "id_generation_failed", err)
	}
	clientToken, err := f.idProvider.NewID()
	if err != nil {
		return newServiceError(opFeedSubmit, "token_generation_failed", err)
	}
	draft.ClientToken = clientToken
	draft.Author = f.author

	provisional := updates.Update{
		ID:             provisionalID,
		TeamID:         f.teamID,
		AuthorID:       f.author.ID,
		AuthorName:     f.author.Name,
		AuthorEmoji:    f.author.Emoji,
		AuthorPhotoURL: f.author.PhotoURL,
		CreatedAt:      draft.CreatedAt,
		Category:       draft.Category,
		Text:           draft.Text,
		Media:          draft.Media,
		Location:       draft.Location,
		ClientToken:    clientToken,
		Provisional:    true,
	}
	if err := provisional.Validate(); err != nil {
		return newServiceError(opFeedSubmit, "invalid_draft", err)
	}

	f.mu.Lock()
	f.entries = updates.Merge(f.entries, []updates.Update{provisional})
	f.pending[provisionalID] = pendingSubmission{
		clientToken: clientToken,
		authorID:    f.author.ID,
		createdAt:   draft.CreatedAt,
		text:        draft.Text,
	}
	f.mu.Unlock()

	canonical, err := f.api.CreateUpdate(ctx, f.teamID, draft)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		// Rollback: the set returns to its pre-submit membership.
		delete(f.pending, provisionalID)
		f.entries = updates.Remove(f.entries, provisionalID)
		f.logger.Warn("update submit failed", zap.String("team_id", f.teamID), zap.Error(err))
		return newServiceError(opFeedSubmit, "create_failed", err)
	}

	if _, stillPending := f.pending[provisionalID]; stillPending {
		delete(f.pending, provisionalID)
		f.entries = updates.Remove(f.entries, provisionalID)
		f.entries = updates.Merge(f.entries, []updates.Update{canonical})
	}
	// Otherwise the push channel already delivered the canonical entry
	// and swept the provisional one; inserting again would duplicate.
	return nil
}

// Attach registers the feed on the shared push connection and joins
// the team's room. Subscription happens before the join so no message
// can arrive unobserved.
func (f *Feed) Attach(conn *realtime.Connection) {
	f.mu.Lock()
	f.conn = conn
	f.unsubscribe = conn.Subscribe("feed:"+f.teamID, f.handlePushMessage)
	f.mu.Unlock()

	if err := conn.JoinRoom(f.teamID); err != nil {
		// Real-time delivery for this team is degraded; locally
		// fetched data remains available.
		f.logger.Warn("room join failed", zap.String("team_id", f.teamID), zap.Error(err))
	}
}

// Close unregisters the push subscriber synchronously before leaving
// the room, so no message can arrive between the two.
func (f *Feed) Close() {
	f.mu.Lock()
	unsubscribe := f.unsubscribe
	conn := f.conn
	f.unsubscribe = nil
	f.conn = nil
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if conn != nil {
		if err := conn.LeaveRoom(f.teamID); err != nil {
			f.logger.Warn("room leave failed", zap.String("team_id", f.teamID), zap.Error(err))
		}
	}
}

func (f *Feed) handlePushMessage(message realtime.UpdateCreated) {
	if message.TeamID != f.teamID {
		return
	}
	f.HandlePush(message.Update)
}

// HandlePush merges a push-delivered canonical update and sweeps any
// provisional entry it supersedes. Correlation is by the echoed client
// token; when the token is absent the author+timestamp+text heuristic
// applies, which can coalesce two genuinely identical simultaneous
// posts by the same author.
func (f *Feed) HandlePush(update updates.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = updates.Merge(f.entries, []updates.Update{update})

	for provisionalID, submission := range f.pending {
		if !supersedes(update, submission) {
			continue
		}
		delete(f.pending, provisionalID)
		f.entries = updates.Remove(f.entries, provisionalID)
	}
}

func supersedes(update updates.Update, submission pendingSubmission) bool {
	if update.ClientToken != "" && submission.clientToken != "" {
		return update.ClientToken == submission.clientToken
	}
	return update.AuthorID == submission.authorID &&
		update.CreatedAt.Equal(submission.createdAt) &&
		update.Text == submission.text
}
