package domain

import "strings"

// DoneColumnTitle names the terminal column. Tasks in it are locked.
const DoneColumnTitle = "Done"

// Column is a named bucket within a board.
type Column struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
	Order int    `json:"order,omitempty"`
}

// IsDone reports whether c is the terminal column.
func (c Column) IsDone() bool {
	return c.Title == DoneColumnTitle
}

// Board is the ordered column set of a project.
type Board struct {
	ID      string   `json:"_id"`
	Name    string   `json:"name,omitempty"`
	Project Ref      `json:"project"`
	Columns []Column `json:"columns"`
}

// Column looks up a column by identifier.
func (b Board) Column(id string) (Column, bool) {
	for _, c := range b.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnByTitle matches a column title case-insensitively.
func (b Board) ColumnByTitle(title string) (Column, bool) {
	for _, c := range b.Columns {
		if strings.EqualFold(c.Title, title) {
			return c, true
		}
	}
	return Column{}, false
}

func (b Board) DoneColumn() (Column, bool) {
	for _, c := range b.Columns {
		if c.IsDone() {
			return c, true
		}
	}
	return Column{}, false
}
