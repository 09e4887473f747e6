package record

import "fmt"

// Kind distinguishes clock-in from clock-out events.
type Kind int

const (
	// KindEntry is a clock-in.
	KindEntry Kind = iota + 1
	// KindExit is a clock-out.
	KindExit
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindExit:
		return "exit"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindEntry, KindExit:
		return true
	default:
		return false
	}
}

// ParseKind converts a wire name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "entry":
		return KindEntry, nil
	case "exit":
		return KindExit, nil
	default:
		return 0, fmt.Errorf("unknown event kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("marshal kind: invalid value %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Origin tags why a location sample was captured.
type Origin int

const (
	// OriginEntry samples are taken together with a clock-in.
	OriginEntry Origin = iota + 1
	// OriginExit samples are taken together with a clock-out.
	OriginExit
	// OriginPeriodic samples come from the hourly tracker.
	OriginPeriodic
	// OriginManual samples are requested explicitly by the worker.
	OriginManual
)

// String returns the wire name of the origin.
func (o Origin) String() string {
	switch o {
	case OriginEntry:
		return "entry"
	case OriginExit:
		return "exit"
	case OriginPeriodic:
		return "periodic"
	case OriginManual:
		return "manual"
	default:
		return fmt.Sprintf("Origin(%d)", int(o))
	}
}

// ParseOrigin converts a wire name into an Origin.
func ParseOrigin(s string) (Origin, error) {
	switch s {
	case "entry":
		return OriginEntry, nil
	case "exit":
		return OriginExit, nil
	case "periodic":
		return OriginPeriodic, nil
	case "manual":
		return OriginManual, nil
	default:
		return 0, fmt.Errorf("unknown location origin %q", s)
	}
}

// OriginFor maps an attendance kind to the origin of the sample captured with it.
func OriginFor(k Kind) Origin {
	switch k {
	case KindEntry:
		return OriginEntry
	case KindExit:
		return OriginExit
	default:
		return OriginManual
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Origin) MarshalText() ([]byte, error) {
	switch o {
	case OriginEntry, OriginExit, OriginPeriodic, OriginManual:
		return []byte(o.String()), nil
	default:
		return nil, fmt.Errorf("marshal origin: invalid value %d", int(o))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Origin) UnmarshalText(b []byte) error {
	parsed, err := ParseOrigin(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ZoneStatus is the tri-state geofence verdict for a captured coordinate.
//
// ZoneUnknown is the zero value: no coordinate, captured offline, or the
// resolver failed. It is never collapsed into ZoneOutside.
type ZoneStatus int

const (
	ZoneUnknown ZoneStatus = iota
	ZoneInside
	ZoneOutside
)

// String returns the wire name of the status.
func (z ZoneStatus) String() string {
	switch z {
	case ZoneUnknown:
		return "unknown"
	case ZoneInside:
		return "inside"
	case ZoneOutside:
		return "outside"
	default:
		return fmt.Sprintf("ZoneStatus(%d)", int(z))
	}
}

// ParseZoneStatus converts a wire name into a ZoneStatus.
// The empty string maps to ZoneUnknown.
func ParseZoneStatus(s string) (ZoneStatus, error) {
	switch s {
	case "", "unknown":
		return ZoneUnknown, nil
	case "inside":
		return ZoneInside, nil
	case "outside":
		return ZoneOutside, nil
	default:
		return ZoneUnknown, fmt.Errorf("unknown zone status %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (z ZoneStatus) MarshalText() ([]byte, error) {
	return []byte(z.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (z *ZoneStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseZoneStatus(string(b))
	if err != nil {
		return err
	}
	*z = parsed
	return nil
}

// SyncState tracks whether an entity has been accepted by the remote system.
type SyncState int

const (
	// StateQueued entities live in the local store only.
	StateQueued SyncState = iota + 1
	// StateConfirmed entities were durably accepted remotely.
	StateConfirmed
)

// String returns the wire name of the state.
func (s SyncState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SyncState) MarshalText() ([]byte, error) {
	switch s {
	case StateQueued, StateConfirmed:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("marshal sync state: invalid value %d", int(s))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SyncState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "queued":
		*s = StateQueued
	case "confirmed":
		*s = StateConfirmed
	default:
		return fmt.Errorf("unknown sync state %q", string(b))
	}
	return nil
}

// Slot numbers a follow-up evidence photo within a session.
type Slot int

const (
	// SlotMandatory must exist before the session can be closed.
	SlotMandatory Slot = 1
	// SlotOptional can only be captured after SlotMandatory.
	SlotOptional Slot = 2
)

// Valid reports whether s is a declared slot.
func (s Slot) Valid() bool {
	switch s {
	case SlotMandatory, SlotOptional:
		return true
	default:
		return false
	}
}

// ParseSlot converts a slot number into a Slot.
func ParseSlot(n int) (Slot, error) {
	s := Slot(n)
	if !s.Valid() {
		return 0, fmt.Errorf("follow-up slot must be 1 or 2, got %d", n)
	}
	return s, nil
}
