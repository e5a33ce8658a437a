package schema

// FrameVersion is the current telemetry frame schema version.
// Unknown fields are ignored by older consumers; required fields never
// change meaning across versions.
const FrameVersion uint16 = 1

// EventType defines the category of an event stored in the decision log.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventTick
	EventDecision
	EventFrame
	EventFill
	EventSovereign
)

// EventHeader is the common metadata attached to every logged event.
type EventHeader struct {
	Type    EventType
	Version uint16
	Source  uint16
	Flags   uint16
	GSID    uint64
	TsEvent int64
	TsRecv  int64
	TraceID uint64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, source uint16, gsid uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: FrameVersion,
		Source:  source,
		GSID:    gsid,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}
