package record

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the calendar date format used for the per-day keys.
const DateLayout = "2006-01-02"

// Coordinate is a GPS fix.
type Coordinate struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	AccuracyM float64 `json:"accuracy_m"`
}

// Zone identifies the site or parcel a coordinate resolved to.
type Zone struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Event is one clock-in or clock-out action.
//
// PhotoBlob holds the raw photo while the event waits for upload; it is never
// serialized into snapshots or rows. PhotoURL is set once the blob has been
// uploaded.
type Event struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Date         string      `json:"date"`
	Kind         Kind        `json:"kind"`
	Timestamp    time.Time   `json:"timestamp"`
	Coord        *Coordinate `json:"coord,omitempty"`
	Zone         *Zone       `json:"zone,omitempty"`
	ZoneStatus   ZoneStatus  `json:"zone_status"`
	PhotoURL     string      `json:"photo_url,omitempty"`
	PhotoBlob    []byte      `json:"-"`
	Inconsistent bool        `json:"inconsistent"`
	Note         string      `json:"note,omitempty"`
	State        SyncState   `json:"state"`
}

// HasPendingPhoto reports whether the event still carries an un-uploaded blob.
func (e Event) HasPendingPhoto() bool {
	return len(e.PhotoBlob) > 0 && e.PhotoURL == ""
}

// PhotoPath is the blob storage key for the event's photo.
func (e Event) PhotoPath() string {
	return fmt.Sprintf("%s/%s.jpg", e.UserID, e.ID)
}

// FollowUp is a supplementary evidence photo tied to an open session.
// It is keyed by (SessionID, Slot); SessionID is the id of the entry event.
type FollowUp struct {
	SessionID string    `json:"session_id"`
	Slot      Slot      `json:"slot"`
	UserID    string    `json:"user_id"`
	Date      string    `json:"date"`
	Timestamp time.Time `json:"timestamp"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	PhotoBlob []byte    `json:"-"`
	State     SyncState `json:"state"`
}

// Key returns the composite identity of the follow-up.
func (f FollowUp) Key() string {
	return fmt.Sprintf("%s#%d", f.SessionID, int(f.Slot))
}

// HasPendingPhoto reports whether the follow-up still carries an un-uploaded blob.
func (f FollowUp) HasPendingPhoto() bool {
	return len(f.PhotoBlob) > 0 && f.PhotoURL == ""
}

// PhotoPath is the blob storage key for the evidence photo.
func (f FollowUp) PhotoPath() string {
	return fmt.Sprintf("%s/followups/%s-%d.jpg", f.UserID, f.SessionID, int(f.Slot))
}

// LocationSample is a GPS capture independent of attendance events.
type LocationSample struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Coord      Coordinate `json:"coord"`
	Zone       *Zone      `json:"zone,omitempty"`
	ZoneStatus ZoneStatus `json:"zone_status"`
	Origin     Origin     `json:"origin"`
	State      SyncState  `json:"state"`
}

// LocalDate returns the calendar date of t in loc.
// A nil location means UTC.
func LocalDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// SortNewestFirst orders events by timestamp descending.
// Ties are broken by id so the result is deterministic.
func SortNewestFirst(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.After(events[j].Timestamp)
		}
		return events[i].ID > events[j].ID
	})
}

// SortOldestFirst orders events by timestamp ascending.
// Ties are broken by id so the result is deterministic.
func SortOldestFirst(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
}
