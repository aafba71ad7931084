package types

import (
	"fmt"
	"time"
)

// Weekdays in the order used by weekly plans.
var Weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// WeeklyItem positions an entity on a day of a weekly plan.
type WeeklyItem struct {
	ID        string `json:"id"`
	EntityID  string `json:"entityId"`
	Day       string `json:"day"`
	Order     int    `json:"order"`
	Completed bool   `json:"completed"`
}

// WeeklyPlan is the plan for one ISO week.
type WeeklyPlan struct {
	ID        string       `json:"id"`
	WeekStart string       `json:"weekStart"`
	Goals     string       `json:"goals,omitempty"`
	Items     []WeeklyItem `json:"items"`
	CreatedAt time.Time    `json:"createdAt,omitzero"`
	UpdatedAt time.Time    `json:"updatedAt,omitzero"`
}

// WeekID returns the plan id for the ISO week containing t.
func WeekID(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("week_%04d-W%02d", y, w)
}

// WeekStart returns the Monday of the ISO week containing t as YYYY-MM-DD.
func WeekStart(t time.Time) string {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset).Format(time.DateOnly)
}

// RemoveEntity drops every item referencing entityID. Reports whether
// anything changed.
func (p *WeeklyPlan) RemoveEntity(entityID string) bool {
	kept := p.Items[:0:0]
	for _, it := range p.Items {
		if it.EntityID != entityID {
			kept = append(kept, it)
		}
	}
	changed := len(kept) != len(p.Items)
	p.Items = kept
	return changed
}

// Template is a reusable board layout.
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Columns   []Column  `json:"columns"`
	Rows      []string  `json:"rows,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}
