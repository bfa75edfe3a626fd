package drawing

import (
	"errors"
	"sync"

	"github.com/uhyunpark/chartreplay/pkg/candle"
	"github.com/uhyunpark/chartreplay/pkg/chart"
)

type Action string

const (
	ActionNone      Action = "none"
	ActionDraft     Action = "draft_started"
	ActionDraftMove Action = "draft_moved"
	ActionCommitted Action = "draft_committed"
	ActionSelected  Action = "selected"
	ActionDrag      Action = "drag_started"
	ActionDragMove  Action = "drag_moved"
	ActionDropped   Action = "drag_committed"
)

// Event reports what a pointer event did.
type Event struct {
	Action    Action   `json:"action"`
	DrawingID string   `json:"drawingId,omitempty"`
	Drawing   *Drawing `json:"drawing,omitempty"`
}

// Overlay turns pointer events in pixel space into store operations. With a
// tool selected, a click starts a draft and the next click commits it. With
// no tool, a click selects the topmost drawing and starts dragging it (or
// resizing, on a rectangle corner) until release. When the magnet is on,
// every pointer position is snapped to the revealed candles first.
type Overlay struct {
	mu       sync.Mutex
	store    *Store
	tool     Kind
	color    string
	magnet   bool
	candles  []candle.Candle
	selected string
}

func NewOverlay(store *Store) *Overlay {
	return &Overlay{store: store, color: "#2962ff"}
}

func (o *Overlay) Store() *Store { return o.store }

// SetTool selects the kind created by the next click. An empty kind returns
// to selection mode and drops an unfinished draft.
func (o *Overlay) SetTool(kind Kind, color string) error {
	if kind != "" && !kind.Valid() {
		return ErrInvalidKind
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tool = kind
	if color != "" {
		o.color = color
	}
	if kind == "" {
		o.store.CancelDraft()
	}
	return nil
}

func (o *Overlay) SetMagnet(on bool) {
	o.mu.Lock()
	o.magnet = on
	o.mu.Unlock()
}

func (o *Overlay) Magnet() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.magnet
}

// SetCandles replaces the candles the magnet may snap to.
func (o *Overlay) SetCandles(cs []candle.Candle) {
	o.mu.Lock()
	o.candles = cs
	o.mu.Unlock()
}

func (o *Overlay) Selected() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selected
}

func (o *Overlay) point(px chart.Pixel, m chart.Mapper) chart.Point {
	p := m.ToPoint(px)
	if o.magnet {
		p = Snap(p, o.candles)
	}
	return p
}

func (o *Overlay) PointerDown(px chart.Pixel, m chart.Mapper) (Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.point(px, m)

	if _, ok := o.store.Draft(); ok {
		o.store.UpdateDraft(p)
		d, err := o.store.CommitDraft()
		if err != nil {
			return Event{Action: ActionNone}, err
		}
		o.tool = ""
		o.selected = d.ID
		return Event{Action: ActionCommitted, DrawingID: d.ID, Drawing: &d}, nil
	}

	if o.tool != "" {
		if err := o.store.StartDraft(o.tool, o.color, p); err != nil {
			return Event{Action: ActionNone}, err
		}
		d, _ := o.store.Draft()
		return Event{Action: ActionDraft, Drawing: &d}, nil
	}

	if id, h, ok := o.store.HitHandle(px, m); ok {
		return o.grab(id, o.store.BeginResize(id, h, p))
	}
	if id, ok := o.store.HitTest(px, m); ok {
		return o.grab(id, o.store.BeginDrag(id, p))
	}
	o.selected = ""
	return Event{Action: ActionNone}, nil
}

func (o *Overlay) grab(id string, err error) (Event, error) {
	o.selected = id
	if errors.Is(err, ErrLocked) {
		return Event{Action: ActionSelected, DrawingID: id}, nil
	}
	if err != nil {
		return Event{Action: ActionNone}, err
	}
	return Event{Action: ActionDrag, DrawingID: id}, nil
}

func (o *Overlay) PointerMove(px chart.Pixel, m chart.Mapper) Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.point(px, m)

	if o.store.UpdateDraft(p) {
		d, _ := o.store.Draft()
		return Event{Action: ActionDraftMove, Drawing: &d}
	}
	if o.store.UpdateDrag(p) {
		d, _ := o.store.Dragging()
		return Event{Action: ActionDragMove, DrawingID: d.ID, Drawing: &d}
	}
	return Event{Action: ActionNone}
}

func (o *Overlay) PointerUp(px chart.Pixel, m chart.Mapper) (Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.store.UpdateDrag(o.point(px, m)) {
		return Event{Action: ActionNone}, nil
	}
	d, err := o.store.EndDrag()
	if err != nil {
		return Event{Action: ActionNone}, err
	}
	return Event{Action: ActionDropped, DrawingID: d.ID, Drawing: &d}, nil
}
