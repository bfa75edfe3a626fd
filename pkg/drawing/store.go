package drawing

import (
	"sync"

	"github.com/google/uuid"

	"github.com/uhyunpark/chartreplay/pkg/chart"
)

// Store owns the committed drawings of one session (slice order is z-order,
// last on top), an optional draft being created, and an optional drag
// staging copy. The committed list only changes on explicit mutations,
// CommitDraft and EndDrag.
type Store struct {
	mu        sync.Mutex
	drawings  []Drawing
	draft     *Drawing
	drag      *dragState
	tolerance float64
	newID     func() string
}

type dragState struct {
	id     string
	origin chart.Point
	resize *Handle
	base   Drawing
	staged Drawing
}

func NewStore(tolerance float64) *Store {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Store{
		tolerance: tolerance,
		newID:     uuid.NewString,
	}
}

func (s *Store) Tolerance() float64 { return s.tolerance }

// List returns the committed drawings in z-order.
func (s *Store) List() []Drawing {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Drawing, len(s.drawings))
	copy(out, s.drawings)
	return out
}

func (s *Store) Get(id string) (Drawing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.drawings[i], true
	}
	return Drawing{}, false
}

// Add commits a fully specified drawing on top of the stack. An empty ID is
// assigned.
func (s *Store) Add(d Drawing) (Drawing, error) {
	if !d.Kind.Valid() {
		return Drawing{}, ErrInvalidKind
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" || s.indexOf(d.ID) >= 0 {
		d.ID = s.newID()
	}
	s.drawings = append(s.drawings, d)
	return d, nil
}

// StartDraft begins the two-click gesture: both anchors sit on p until the
// pointer moves. Any previous draft is discarded.
func (s *Store) StartDraft(kind Kind, color string, p chart.Point) error {
	if !kind.Valid() {
		return ErrInvalidKind
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = &Drawing{
		Kind:    kind,
		Points:  [2]chart.Point{p, p},
		Color:   color,
		Visible: true,
	}
	return nil
}

// UpdateDraft moves the second anchor of the draft. Reports false when no
// draft is active.
func (s *Store) UpdateDraft(p chart.Point) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return false
	}
	s.draft.Points[1] = p
	return true
}

func (s *Store) Draft() (Drawing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return Drawing{}, false
	}
	return *s.draft, true
}

// CommitDraft promotes the draft into the committed list.
func (s *Store) CommitDraft() (Drawing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return Drawing{}, ErrNoDraft
	}
	d := *s.draft
	d.ID = s.newID()
	s.draft = nil
	s.drawings = append(s.drawings, d)
	return d, nil
}

func (s *Store) CancelDraft() {
	s.mu.Lock()
	s.draft = nil
	s.mu.Unlock()
}

// HitTest returns the topmost visible drawing within tolerance of px.
// Locked drawings can be hit; they just cannot be dragged.
func (s *Store) HitTest(px chart.Pixel, m chart.Mapper) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.drawings) - 1; i >= 0; i-- {
		d := s.drawings[i]
		if !d.Visible {
			continue
		}
		if Distance(d, px, m) <= s.tolerance {
			return d.ID, true
		}
	}
	return "", false
}

// HitHandle returns the topmost visible rectangle with a corner within
// tolerance of px.
func (s *Store) HitHandle(px chart.Pixel, m chart.Mapper) (string, Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.drawings) - 1; i >= 0; i-- {
		d := s.drawings[i]
		if !d.Visible || d.Kind != Rect {
			continue
		}
		for _, h := range corners() {
			if dist(px, m.ToPixel(d.corner(h))) <= s.tolerance {
				return d.ID, h, true
			}
		}
	}
	return "", Handle{}, false
}

// BeginDrag starts translating drawing id. origin is the domain point under
// the pointer at drag start.
func (s *Store) BeginDrag(id string, origin chart.Point) error {
	return s.beginDrag(id, origin, nil)
}

// BeginResize starts moving one corner of a rectangle.
func (s *Store) BeginResize(id string, h Handle, origin chart.Point) error {
	if !h.valid() {
		return ErrNotResizable
	}
	return s.beginDrag(id, origin, &h)
}

func (s *Store) beginDrag(id string, origin chart.Point, h *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ErrDrawingNotFound
	}
	d := s.drawings[i]
	if d.Locked {
		return ErrLocked
	}
	if h != nil && d.Kind != Rect {
		return ErrNotResizable
	}
	s.drag = &dragState{id: id, origin: origin, resize: h, base: d, staged: d}
	return nil
}

// UpdateDrag recomputes the staging copy from the cumulative delta between
// the drag origin and p.
func (s *Store) UpdateDrag(p chart.Point) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag == nil {
		return false
	}
	dt, dp := chart.Delta(s.drag.origin, p)
	if h := s.drag.resize; h != nil {
		staged := s.drag.base
		c := chart.Translate(staged.corner(*h), dt, dp)
		staged.Points[h.TimeFrom].Time = c.Time
		staged.Points[h.PriceFrom].Price = c.Price
		s.drag.staged = staged
		return true
	}
	s.drag.staged = s.drag.base.Translate(dt, dp)
	return true
}

// Dragging returns the staging copy of the drawing being dragged.
func (s *Store) Dragging() (Drawing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag == nil {
		return Drawing{}, false
	}
	return s.drag.staged, true
}

// EndDrag writes the staging copy back to the committed list.
func (s *Store) EndDrag() (Drawing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag == nil {
		return Drawing{}, ErrNotDragging
	}
	staged := s.drag.staged
	s.drag = nil
	i := s.indexOf(staged.ID)
	if i < 0 {
		return Drawing{}, ErrDrawingNotFound
	}
	s.drawings[i] = staged
	return staged, nil
}

func (s *Store) CancelDrag() {
	s.mu.Lock()
	s.drag = nil
	s.mu.Unlock()
}

func (s *Store) SetLocked(id string, locked bool) error {
	return s.update(id, func(d *Drawing) { d.Locked = locked })
}

func (s *Store) SetVisible(id string, visible bool) error {
	return s.update(id, func(d *Drawing) { d.Visible = visible })
}

func (s *Store) SetColor(id, color string) error {
	return s.update(id, func(d *Drawing) { d.Color = color })
}

// BringToFront moves a drawing to the top of the z-order.
func (s *Store) BringToFront(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ErrDrawingNotFound
	}
	d := s.drawings[i]
	s.drawings = append(s.drawings[:i], s.drawings[i+1:]...)
	s.drawings = append(s.drawings, d)
	return nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ErrDrawingNotFound
	}
	s.drawings = append(s.drawings[:i], s.drawings[i+1:]...)
	if s.drag != nil && s.drag.id == id {
		s.drag = nil
	}
	return nil
}

// Clear removes every committed drawing and any drag in progress.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawings = nil
	s.drag = nil
}

func (s *Store) update(id string, fn func(*Drawing)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ErrDrawingNotFound
	}
	fn(&s.drawings[i])
	if s.drag != nil && s.drag.id == id {
		if s.drawings[i].Locked {
			s.drag = nil
		} else {
			fn(&s.drag.base)
			fn(&s.drag.staged)
		}
	}
	return nil
}

func (s *Store) indexOf(id string) int {
	for i := range s.drawings {
		if s.drawings[i].ID == id {
			return i
		}
	}
	return -1
}
