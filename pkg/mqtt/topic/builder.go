package topic

import (
	"strings"
)

// Topic segments shared by every carthingy publisher and subscriber.
// Changing these values breaks existing subscribers.
const (
	// SegmentVehicles groups per-vehicle topics.
	// Structure: {root}/vehicles/{PLATE}/{suffix}
	SegmentVehicles = "vehicles"

	// SuffixRecord carries a completed VehicleRecord as JSON.
	SuffixRecord = "record"

	// SuffixSession carries session phase changes of a running query.
	SuffixSession = "session"

	// SegmentClients groups per-client presence topics.
	// Structure: {root}/clients/{clientID}/online
	SegmentClients = "clients"

	// SuffixOnline is the retained presence topic, also used as the will topic.
	SuffixOnline = "online"

	// Wildcard matches exactly one topic level.
	Wildcard = "+"
	// MultiWildcard matches the remaining levels and must come last.
	MultiWildcard = "#"
)

// Builder constructs MQTT topic strings under a common root.
type Builder struct {
	// root is the base namespace for all topics (e.g., "carthingy/v1").
	root string
}

// NewBuilder returns a Builder for root. Surrounding slashes are ignored.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Root returns the namespace all topics are built under.
func (b *Builder) Root() string {
	return b.root
}

// VehicleRecord returns the topic a completed record for plate is published on.
func (b *Builder) VehicleRecord(plate string) string {
	return b.Build(SegmentVehicles, plate, SuffixRecord)
}

// VehicleRecordWildcard matches the record topics of every vehicle.
// Result: {root}/vehicles/+/record
func (b *Builder) VehicleRecordWildcard() string {
	return b.Build(SegmentVehicles, Wildcard, SuffixRecord)
}

// VehicleSession returns the topic session phase changes for plate are published on.
func (b *Builder) VehicleSession(plate string) string {
	return b.Build(SegmentVehicles, plate, SuffixSession)
}

// ClientOnline returns the presence topic of clientID.
func (b *Builder) ClientOnline(clientID string) string {
	return b.Build(SegmentClients, clientID, SuffixOnline)
}

// All matches every topic under root.
func (b *Builder) All() string {
	return b.Build(MultiWildcard)
}

// Build joins root and segments with '/'. Empty segments are skipped.
func (b *Builder) Build(segments ...string) string {
	parts := make([]string, 0, len(segments)+1)
	if b.root != "" {
		parts = append(parts, b.root)
	}
	for _, s := range segments {
		if s = strings.Trim(s, "/"); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}
