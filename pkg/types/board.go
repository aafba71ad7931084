package types

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Group is a color-tagged bucket of rows.
type Group struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Column is a workflow stage. Key is stable; Name is the display label.
type Column struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Row holds, per column key, an ordered list of entity ids. A row never
// embeds entity content.
type Row struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	GroupID   string              `json:"groupId,omitempty"`
	ProjectID string              `json:"projectId,omitempty"`
	Cards     map[string][]string `json:"cards"`
}

// Board is a named workspace of groups, rows and columns.
type Board struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Groups       []Group   `json:"groups"`
	Columns      []Column  `json:"columns"`
	Rows         []Row     `json:"rows"`
	NextRowID    int       `json:"nextRowId"`
	NextColumnID int       `json:"nextColumnId"`
	NextGroupID  int       `json:"nextGroupId"`
	CreatedAt    time.Time `json:"createdAt,omitzero"`
	UpdatedAt    time.Time `json:"updatedAt,omitzero"`
}

// DefaultColumns are the columns of a freshly created board.
var DefaultColumns = []Column{
	{Key: "todo", Name: "To Do"},
	{Key: "inprogress", Name: "In Progress"},
	{Key: "done", Name: "Done"},
}

// NewBoard returns a board with the default columns and a single row.
func NewBoard(id, name string, now time.Time) *Board {
	b := &Board{
		ID:           id,
		Name:         name,
		Groups:       []Group{},
		Columns:      slices.Clone(DefaultColumns),
		NextRowID:    1,
		NextColumnID: 1,
		NextGroupID:  1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	b.AddRow("Main")
	return b
}

// Validate checks the board's required fields and internal references.
func (b *Board) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return &ValidationError{Field: "name", Reason: "board requires a name"}
	}
	groups := make(map[string]bool, len(b.Groups))
	for _, g := range b.Groups {
		groups[g.ID] = true
	}
	for _, r := range b.Rows {
		if r.GroupID != "" && !groups[r.GroupID] {
			return &ValidationError{Field: "rows", Reason: fmt.Sprintf("row %s references unknown group %s", r.ID, r.GroupID)}
		}
		for col := range r.Cards {
			if !b.HasColumn(col) {
				return &ValidationError{Field: "rows", Reason: fmt.Sprintf("row %s references unknown column %s", r.ID, col)}
			}
		}
	}
	return nil
}

// HasColumn reports whether the board has a column with the given key.
func (b *Board) HasColumn(key string) bool {
	return slices.ContainsFunc(b.Columns, func(c Column) bool { return c.Key == key })
}

// Row returns the row with the given id, or nil.
func (b *Board) Row(id string) *Row {
	for i := range b.Rows {
		if b.Rows[i].ID == id {
			return &b.Rows[i]
		}
	}
	return nil
}

// AddRow appends a row and returns its id.
func (b *Board) AddRow(name string) string {
	id := FormatID(KindRow, b.NextRowID)
	b.NextRowID++
	b.Rows = append(b.Rows, Row{ID: id, Name: name, Cards: map[string][]string{}})
	return id
}

// AddColumn appends a column with a generated key and returns the key.
func (b *Board) AddColumn(name string) string {
	key := FormatID(KindColumn, b.NextColumnID)
	for b.HasColumn(key) {
		b.NextColumnID++
		key = FormatID(KindColumn, b.NextColumnID)
	}
	b.NextColumnID++
	b.Columns = append(b.Columns, Column{Key: key, Name: name})
	return key
}

// AddGroup appends a group and returns its id.
func (b *Board) AddGroup(name, color string) string {
	id := FormatID(KindGroup, b.NextGroupID)
	b.NextGroupID++
	b.Groups = append(b.Groups, Group{ID: id, Name: name, Color: color})
	return id
}

// Place moves entityID to position index of the given row and column. Any
// previous position of the entity on this board is removed first. An index
// outside the list appends.
func (b *Board) Place(rowID, column, entityID string, index int) error {
	row := b.Row(rowID)
	if row == nil {
		return &NotFoundError{Kind: "row", ID: rowID}
	}
	if !b.HasColumn(column) {
		return &NotFoundError{Kind: "column", ID: column}
	}
	b.RemoveEntity(entityID)
	if row.Cards == nil {
		row.Cards = map[string][]string{}
	}
	cards := row.Cards[column]
	if index < 0 || index > len(cards) {
		index = len(cards)
	}
	row.Cards[column] = slices.Insert(cards, index, entityID)
	return nil
}

// RemoveEntity strips every position and row-project reference to entityID.
// Reports whether anything changed.
func (b *Board) RemoveEntity(entityID string) bool {
	changed := false
	for i := range b.Rows {
		r := &b.Rows[i]
		if r.ProjectID == entityID {
			r.ProjectID = ""
			changed = true
		}
		for col, ids := range r.Cards {
			kept := slices.DeleteFunc(slices.Clone(ids), func(id string) bool { return id == entityID })
			if len(kept) != len(ids) {
				r.Cards[col] = kept
				changed = true
			}
		}
	}
	return changed
}

// EntityIDs returns every entity id referenced by the board, in board order.
func (b *Board) EntityIDs() []string {
	var ids []string
	for _, r := range b.Rows {
		if r.ProjectID != "" {
			ids = append(ids, r.ProjectID)
		}
		for _, c := range b.Columns {
			ids = append(ids, r.Cards[c.Key]...)
		}
	}
	return ids
}

// RenameEntity rewrites every reference to from into to.
func (b *Board) RenameEntity(from, to string) {
	for i := range b.Rows {
		r := &b.Rows[i]
		if r.ProjectID == from {
			r.ProjectID = to
		}
		for col, ids := range r.Cards {
			for j, id := range ids {
				if id == from {
					r.Cards[col][j] = to
				}
			}
		}
	}
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() *Board {
	c := *b
	c.Groups = slices.Clone(b.Groups)
	c.Columns = slices.Clone(b.Columns)
	c.Rows = make([]Row, len(b.Rows))
	for i, r := range b.Rows {
		r.Cards = make(map[string][]string, len(b.Rows[i].Cards))
		for col, ids := range b.Rows[i].Cards {
			r.Cards[col] = slices.Clone(ids)
		}
		c.Rows[i] = r
	}
	return &c
}
