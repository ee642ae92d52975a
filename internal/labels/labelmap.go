package labels

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/model"
)

// ConfigurationError indicates the folder topology could not be set up.
// It is fatal: the engine must not classify without a complete topology.
type ConfigurationError struct {
	Folder string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("label configuration: folder %q: %v", e.Folder, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Topology holds the resolved folder ids the label map manages.
type Topology struct {
	// ParentID is the root classification folder.
	ParentID string

	// CorrectionID is the root of the correction subfolder tree.
	CorrectionID string

	// ByClass maps each classification to its folder id.
	ByClass map[model.Classification]string
}

// LabelMap maintains the classification folder topology and enforces
// mutual exclusivity: a message carries at most one classification
// folder at a time.
type LabelMap struct {
	mailstore mailstore.Mailstore
	logger    *zap.Logger

	topology Topology
	// byFolder is the reverse of topology.ByClass.
	byFolder map[string]model.Classification
}

// NewLabelMap creates an uninitialized label map. Initialize must be
// called before any labeling operation.
func NewLabelMap(ms mailstore.Mailstore, logger *zap.Logger) *LabelMap {
	return &LabelMap{
		mailstore: ms,
		logger:    logger,
	}
}

// Initialize resolves or creates the folder topology: the parent
// folder, one child per classification, and the correction root. It is
// idempotent; existing folders are reused.
func (l *LabelMap) Initialize(ctx context.Context, cfg model.FoldersConfig) error {
	parent, err := l.findOrCreate(ctx, cfg.Parent, "")
	if err != nil {
		return &ConfigurationError{Folder: cfg.Parent, Err: err}
	}

	classes := model.AllClassifications()
	byClass := make(map[model.Classification]string, len(classes))
	byFolder := make(map[string]model.Classification, len(classes))
	for _, class := range classes {
		folder, err := l.findOrCreate(ctx, class.DisplayName(), parent.ID)
		if err != nil {
			return &ConfigurationError{Folder: class.DisplayName(), Err: err}
		}
		byClass[class] = folder.ID
		byFolder[folder.ID] = class
	}

	correction, err := l.findOrCreate(ctx, cfg.Correction, "")
	if err != nil {
		return &ConfigurationError{Folder: cfg.Correction, Err: err}
	}

	l.topology = Topology{
		ParentID:     parent.ID,
		CorrectionID: correction.ID,
		ByClass:      byClass,
	}
	l.byFolder = byFolder

	l.logger.Info("label topology ready",
		zap.String("parent", parent.ID),
		zap.String("correction", correction.ID),
		zap.Int("classifications", len(byClass)))

	return nil
}

// findOrCreate looks a folder up by name and creates it if absent.
// Creation races with other clients are tolerated by re-finding.
func (l *LabelMap) findOrCreate(ctx context.Context, name, parentID string) (*mailstore.Folder, error) {
	folder, err := l.mailstore.FindFolderByName(ctx, name)
	if err == nil {
		return folder, nil
	}
	if !mailstore.IsNotFound(err) {
		return nil, err
	}

	folder, err = l.mailstore.CreateFolder(ctx, name, parentID)
	if err != nil {
		return nil, err
	}

	l.logger.Info("created folder",
		zap.String("name", name),
		zap.String("id", folder.ID))
	return folder, nil
}

// ApplyClassificationLabel files a message into the folder for the
// given classification, removing every other classification folder
// first. Removals run before the add so a failure mid-way leaves the
// message with at most one classification folder, never two.
func (l *LabelMap) ApplyClassificationLabel(
	ctx context.Context,
	messageID string,
	class model.Classification,
) error {
	target, ok := l.topology.ByClass[class]
	if !ok {
		return fmt.Errorf("no folder for classification %q", class)
	}

	for folderID := range l.byFolder {
		if folderID == target {
			continue
		}
		if err := l.mailstore.RemoveFromFolder(ctx, messageID, folderID); err != nil {
			return fmt.Errorf("removing %s from %s: %w", messageID, folderID, err)
		}
	}

	if err := l.mailstore.AddToFolder(ctx, messageID, target); err != nil {
		return fmt.Errorf("adding %s to %s: %w", messageID, target, err)
	}

	return nil
}

// RemoveAllClassificationLabels strips every classification folder from
// a message. Individual removal failures are logged and skipped so one
// bad folder does not block cleanup of the rest.
func (l *LabelMap) RemoveAllClassificationLabels(ctx context.Context, messageID string) {
	for folderID := range l.byFolder {
		if err := l.mailstore.RemoveFromFolder(ctx, messageID, folderID); err != nil {
			l.logger.Warn("removing classification folder",
				zap.String("message", messageID),
				zap.String("folder", folderID),
				zap.Error(err))
		}
	}
}

// HasAnyClassificationFolder reports whether any of the given folder
// ids is a classification folder.
func (l *LabelMap) HasAnyClassificationFolder(folderIDs []string) bool {
	for _, id := range folderIDs {
		if _, ok := l.byFolder[id]; ok {
			return true
		}
	}
	return false
}

// FolderIDFor returns the folder id for a classification.
func (l *LabelMap) FolderIDFor(class model.Classification) (string, bool) {
	id, ok := l.topology.ByClass[class]
	return id, ok
}

// ClassificationForFolder returns the classification a folder id maps
// to, if any.
func (l *LabelMap) ClassificationForFolder(folderID string) (model.Classification, bool) {
	class, ok := l.byFolder[folderID]
	return class, ok
}

// CorrectionFolderID returns the correction root folder id.
func (l *LabelMap) CorrectionFolderID() string {
	return l.topology.CorrectionID
}

// ClassificationFolderIDs returns all classification folder ids.
func (l *LabelMap) ClassificationFolderIDs() []string {
	ids := make([]string, 0, len(l.byFolder))
	for id := range l.byFolder {
		ids = append(ids, id)
	}
	return ids
}
