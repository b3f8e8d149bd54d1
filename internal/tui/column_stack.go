package tui

import (
	"github.com/mmcdole/kinoview/internal/tui/components"
)

// ColumnStack holds the folder listings from the group folder root down to
// the folder being browsed. Only the top column is shown and focused.
type ColumnStack struct {
	columns     []*components.ListColumn
	cursorStack []int // Saved cursor positions for back navigation
}

// NewColumnStack creates a new empty column stack
func NewColumnStack() *ColumnStack {
	return &ColumnStack{}
}

// Len returns the number of columns in the stack
func (cs *ColumnStack) Len() int {
	return len(cs.columns)
}

// Top returns the topmost (current/focused) column
func (cs *ColumnStack) Top() *components.ListColumn {
	if len(cs.columns) == 0 {
		return nil
	}
	return cs.columns[len(cs.columns)-1]
}

// Find returns the column listing serverURL
func (cs *ColumnStack) Find(serverURL string) *components.ListColumn {
	for _, col := range cs.columns {
		if col.ServerURL() == serverURL {
			return col
		}
	}
	return nil
}

// Push adds a new column to the stack, saving the current cursor position
func (cs *ColumnStack) Push(col *components.ListColumn) {
	saved := 0
	if top := cs.Top(); top != nil {
		saved = top.SelectedIndex()
		top.SetFocused(false)
	}
	cs.cursorStack = append(cs.cursorStack, saved)

	col.SetFocused(true)
	cs.columns = append(cs.columns, col)
}

// Pop removes the top column and restores the parent's cursor.
// The root column is never popped.
func (cs *ColumnStack) Pop() *components.ListColumn {
	if len(cs.columns) <= 1 {
		return nil
	}

	popped := cs.columns[len(cs.columns)-1]
	popped.SetFocused(false)
	cs.columns = cs.columns[:len(cs.columns)-1]

	saved := cs.cursorStack[len(cs.cursorStack)-1]
	cs.cursorStack = cs.cursorStack[:len(cs.cursorStack)-1]

	if top := cs.Top(); top != nil {
		top.SetFocused(true)
		top.SetSelectedIndex(saved)
	}
	return popped
}

// Reset resets the stack to a single root column
func (cs *ColumnStack) Reset(col *components.ListColumn) {
	for _, c := range cs.columns {
		c.SetFocused(false)
	}
	col.SetFocused(true)
	cs.columns = []*components.ListColumn{col}
	cs.cursorStack = nil
}

// SetSizes updates the size of all columns
func (cs *ColumnStack) SetSizes(width, height int) {
	for _, col := range cs.columns {
		col.SetSize(width, height)
	}
}

// SetSpinner updates the loading spinner of all columns
func (cs *ColumnStack) SetSpinner(view string) {
	for _, col := range cs.columns {
		col.SetSpinner(view)
	}
}

// CanGoBack returns true if we can navigate back (not at root)
func (cs *ColumnStack) CanGoBack() bool {
	return len(cs.columns) > 1
}

// Titles returns the column titles from the root down
func (cs *ColumnStack) Titles() []string {
	titles := make([]string, len(cs.columns))
	for i, col := range cs.columns {
		titles[i] = col.Title()
	}
	return titles
}
