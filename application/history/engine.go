package history

import (
	"go.uber.org/zap"

	"mindmeld/domain/core/aggregates"
	"mindmeld/domain/events"
)

// Engine owns the ordered action log, the cursor (index of the last applied
// action, -1 when empty), and the save watermark. Nothing else mutates the
// log.
//
// Undo is gated on the watermark: once a save sets savedCursor = cursor,
// actions at or below that point are permanently non-undoable. Redo is always
// recomputed from the log length — saving abandons nothing. (The alternative
// of clearing redo on save exists in the wild; the recomputed contract is the
// one implemented here.)
type Engine struct {
	log         []Action
	cursor      int
	savedCursor int
	logger      *zap.Logger
}

// NewEngine creates an empty history engine
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cursor:      -1,
		savedCursor: -1,
		logger:      logger,
	}
}

// Append records an already-applied action, truncating any redo branch past
// the cursor. Returns false when the action is rejected: a snapshot with an
// empty node list (a programmer error in the mutation pipeline that would
// corrupt the log) or a sub-pixel move.
func (e *Engine) Append(action Action) bool {
	if action == nil {
		return false
	}
	if len(action.Before().Nodes) == 0 {
		e.logger.Warn("rejecting history action with empty snapshot",
			zap.String("kind", string(action.Kind())),
		)
		return false
	}
	if move, ok := action.(*MoveNode); ok && move.negligible() {
		e.logger.Debug("skipping sub-pixel move")
		return false
	}

	// A new edit invalidates any previously-undone branch.
	e.log = e.log[:e.cursor+1]
	e.log = append(e.log, action)
	e.cursor++

	e.logger.Debug("history action appended",
		zap.String("kind", string(action.Kind())),
		zap.Int("cursor", e.cursor),
	)
	return true
}

// CanUndo reports whether the cursor sits above the save watermark
func (e *Engine) CanUndo() bool {
	return e.cursor > e.savedCursor
}

// CanRedo reports whether undone actions remain ahead of the cursor
func (e *Engine) CanRedo() bool {
	return e.cursor+1 < len(e.log)
}

// Undo reverts the action at the cursor and steps back. Returns the updated
// document, the live changes collaborators need, and whether anything
// happened.
func (e *Engine) Undo(doc aggregates.Document) (aggregates.Document, []events.LiveChange, bool) {
	if !e.CanUndo() {
		return doc, nil, false
	}
	action := e.log[e.cursor]
	doc, changes := action.Revert(doc)
	e.cursor--

	e.logger.Debug("undo applied",
		zap.String("kind", string(action.Kind())),
		zap.Int("cursor", e.cursor),
	)
	return doc, changes, true
}

// Redo reapplies the action ahead of the cursor and steps forward
func (e *Engine) Redo(doc aggregates.Document) (aggregates.Document, []events.LiveChange, bool) {
	if !e.CanRedo() {
		return doc, nil, false
	}
	action := e.log[e.cursor+1]
	doc, changes := action.Apply(doc)
	e.cursor++

	e.logger.Debug("redo applied",
		zap.String("kind", string(action.Kind())),
		zap.Int("cursor", e.cursor),
	)
	return doc, changes, true
}

// MarkSaved moves the watermark to the cursor. The watermark only ever moves
// forward: a save after undoing below a previous save point cannot happen,
// because those actions were already non-undoable.
func (e *Engine) MarkSaved() {
	e.savedCursor = e.cursor
}

// Reset discards the log entirely, used when a document is (re)loaded
func (e *Engine) Reset() {
	e.log = nil
	e.cursor = -1
	e.savedCursor = -1
}

// Len returns the number of actions in the log
func (e *Engine) Len() int {
	return len(e.log)
}

// Cursor returns the index of the last applied action, -1 when empty
func (e *Engine) Cursor() int {
	return e.cursor
}

// SavedCursor returns the save watermark index, -1 when never saved
func (e *Engine) SavedCursor() int {
	return e.savedCursor
}
