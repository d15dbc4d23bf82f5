package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/collabnote/collabnote/protocol"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errEmptyUpdate       = errors.New("snapshot update carries no fields")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "content.service.new"
	opLoadSnapshot   = "content.load_snapshot"
	opSaveSnapshot   = "content.save_snapshot"
	opListRevisions  = "content.list_revisions"
	opRecordActivity = "content.record_activity"
	opRecentActivity = "content.recent_activity"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for revision and activity rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig wires the dependencies of the content service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the durable store behind the sync engine: notebook snapshots,
// their revision history, and the activity feed. The engine decides when to
// push a snapshot; this service only stores what it is handed.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// SnapshotData is the decoded form of a stored snapshot.
type SnapshotData struct {
	TextContent string
	Drawing     protocol.DrawingData
	Version     int64
}

// SnapshotUpdate carries the fields of a partial durable save. Nil fields
// keep their stored value.
type SnapshotUpdate struct {
	TextContent *string
	Drawing     *protocol.DrawingData
}

// LoadSnapshot returns the current durable snapshot for a notebook. A
// notebook that has never been saved yields an empty snapshot rather than
// an error, so a fresh room starts blank.
func (s *Service) LoadSnapshot(ctx context.Context, notebookID NotebookID) (SnapshotData, error) {
	var stored Snapshot
	err := s.db.WithContext(ctx).
		Where("notebook_id = ?", notebookID.String()).
		Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SnapshotData{Drawing: protocol.DrawingData{Paths: []protocol.DrawPath{}}}, nil
	}
	if err != nil {
		s.logError(opLoadSnapshot, "snapshot_select_failed", err, zap.String("notebook_id", notebookID.String()))
		return SnapshotData{}, newServiceError(opLoadSnapshot, "snapshot_select_failed", err)
	}

	decoded, err := decodeSnapshot(stored)
	if err != nil {
		s.logError(opLoadSnapshot, "drawing_decode_failed", err, zap.String("notebook_id", notebookID.String()))
		return SnapshotData{}, newServiceError(opLoadSnapshot, "drawing_decode_failed", err)
	}
	return decoded, nil
}

// SaveSnapshot applies a partial update to the stored snapshot, bumps its
// version, and appends a revision row. Each call is one durable save
// regardless of how many live edits it collapses.
func (s *Service) SaveSnapshot(ctx context.Context, notebookID NotebookID, update SnapshotUpdate) (SnapshotData, error) {
	if update.TextContent == nil && update.Drawing == nil {
		return SnapshotData{}, newServiceError(opSaveSnapshot, "empty_update", errEmptyUpdate)
	}

	var result SnapshotData
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Snapshot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("notebook_id = ?", notebookID.String()).
			Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			stored = Snapshot{
				NotebookID:  notebookID.String(),
				DrawingJSON: emptyDrawingJSON,
			}
		} else if err != nil {
			s.logError(opSaveSnapshot, "snapshot_select_failed", err, zap.String("notebook_id", notebookID.String()))
			return newServiceError(opSaveSnapshot, "snapshot_select_failed", err)
		}

		if update.TextContent != nil {
			stored.TextContent = *update.TextContent
		}
		if update.Drawing != nil {
			encoded, err := json.Marshal(update.Drawing)
			if err != nil {
				s.logError(opSaveSnapshot, "drawing_encode_failed", err, zap.String("notebook_id", notebookID.String()))
				return newServiceError(opSaveSnapshot, "drawing_encode_failed", err)
			}
			stored.DrawingJSON = string(encoded)
		}
		stored.Version++
		stored.UpdatedAtSeconds = s.clock().UTC().Unix()

		if err := tx.Save(&stored).Error; err != nil {
			s.logError(opSaveSnapshot, "snapshot_save_failed", err, zap.String("notebook_id", notebookID.String()))
			return newServiceError(opSaveSnapshot, "snapshot_save_failed", err)
		}

		revisionID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opSaveSnapshot, "id_generation_failed", err, zap.String("notebook_id", notebookID.String()))
			return newServiceError(opSaveSnapshot, "id_generation_failed", err)
		}
		revision := Revision{
			RevisionID:     revisionID,
			NotebookID:     stored.NotebookID,
			TextContent:    stored.TextContent,
			DrawingJSON:    stored.DrawingJSON,
			Version:        stored.Version,
			SavedAtSeconds: stored.UpdatedAtSeconds,
		}
		if err := tx.Create(&revision).Error; err != nil {
			s.logError(opSaveSnapshot, "revision_insert_failed", err, zap.String("notebook_id", notebookID.String()))
			return newServiceError(opSaveSnapshot, "revision_insert_failed", err)
		}

		decoded, err := decodeSnapshot(stored)
		if err != nil {
			s.logError(opSaveSnapshot, "drawing_decode_failed", err, zap.String("notebook_id", notebookID.String()))
			return newServiceError(opSaveSnapshot, "drawing_decode_failed", err)
		}
		result = decoded
		return nil
	})

	if txErr != nil {
		return SnapshotData{}, txErr
	}
	return result, nil
}

// ListRevisions returns the most recent revisions for a notebook,
// newest first.
func (s *Service) ListRevisions(ctx context.Context, notebookID NotebookID, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = 20
	}
	var revisions []Revision
	if err := s.db.WithContext(ctx).
		Where("notebook_id = ?", notebookID.String()).
		Order("saved_at_s DESC, revision_id DESC").
		Limit(limit).
		Find(&revisions).Error; err != nil {
		s.logError(opListRevisions, "query_failed", err, zap.String("notebook_id", notebookID.String()))
		return nil, newServiceError(opListRevisions, "query_failed", err)
	}
	return revisions, nil
}

// ActivityEvent describes one feed entry before it is assigned an id and a
// timestamp.
type ActivityEvent struct {
	NotebookID NotebookID
	ActorID    string
	ActorName  string
	Action     string
	Details    string
}

// RecordActivity appends one entry to a notebook's activity feed. Entries
// are independent, so there is no read-modify-write hazard here.
func (s *Service) RecordActivity(ctx context.Context, event ActivityEvent) error {
	activityID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecordActivity, "id_generation_failed", err, zap.String("notebook_id", event.NotebookID.String()))
		return newServiceError(opRecordActivity, "id_generation_failed", err)
	}

	record := ActivityRecord{
		ActivityID:       activityID,
		NotebookID:       event.NotebookID.String(),
		ActorID:          event.ActorID,
		ActorName:        event.ActorName,
		Action:           event.Action,
		Details:          event.Details,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opRecordActivity, "insert_failed", err, zap.String("notebook_id", event.NotebookID.String()))
		return newServiceError(opRecordActivity, "insert_failed", err)
	}
	return nil
}

// RecentActivity returns the latest feed entries for display, newest first.
// The cap is cosmetic; older rows stay in durable history.
func (s *Service) RecentActivity(ctx context.Context, notebookID NotebookID, limit int) ([]ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []ActivityRecord
	if err := s.db.WithContext(ctx).
		Where("notebook_id = ?", notebookID.String()).
		Order("created_at_s DESC, activity_id DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		s.logError(opRecentActivity, "query_failed", err, zap.String("notebook_id", notebookID.String()))
		return nil, newServiceError(opRecentActivity, "query_failed", err)
	}
	return records, nil
}

const emptyDrawingJSON = `{"paths":[]}`

func decodeSnapshot(stored Snapshot) (SnapshotData, error) {
	data := SnapshotData{
		TextContent: stored.TextContent,
		Version:     stored.Version,
		Drawing:     protocol.DrawingData{Paths: []protocol.DrawPath{}},
	}
	if stored.DrawingJSON == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(stored.DrawingJSON), &data.Drawing); err != nil {
		return SnapshotData{}, err
	}
	if data.Drawing.Paths == nil {
		data.Drawing.Paths = []protocol.DrawPath{}
	}
	return data, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("content service error", attrs...)
}
