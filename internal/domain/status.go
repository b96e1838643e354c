package domain

// EntityType scopes a status vocabulary
type EntityType string

const (
	EntityUser     EntityType = "user"
	EntityKit      EntityType = "kit"
	EntityResearch EntityType = "research"
	EntitySample   EntityType = "sample"
)

// StatusAll makes Count cover every status of an entity type
const StatusAll = "all"

// User roles are the user entity's status vocabulary
const (
	RoleAdmin     = "admin"
	RoleVolunteer = "volunteer"
	RoleObserver  = "observer"
)

const (
	KitCreated   = "created"
	KitSent      = "sent"
	KitActivated = "activated"
)

const (
	ResearchPending   = "pending"
	ResearchOngoing   = "ongoing"
	ResearchPaused    = "paused"
	ResearchEnded     = "ended"
	ResearchCancelled = "cancelled"
)

const (
	SampleCollected = "collected"
	SampleSent      = "sent"
	SampleDelivered = "delivered"
)

// Status is one immutable vocabulary entry (statuses table)
type Status struct {
	ID         int64      `json:"id"`
	EntityType EntityType `json:"entity_type"`
	Key        string     `json:"key"`
	Info       string     `json:"info"`
}

// DefaultStatuses is the seeded vocabulary, in display order per entity type
func DefaultStatuses() []Status {
	return []Status{
		{EntityType: EntityUser, Key: RoleAdmin, Info: "Manages kits and research campaigns"},
		{EntityType: EntityUser, Key: RoleVolunteer, Info: "Collects samples with owned kits"},
		{EntityType: EntityUser, Key: RoleObserver, Info: "Read-only access"},

		{EntityType: EntityKit, Key: KitCreated, Info: "Kit assembled, not yet handed out"},
		{EntityType: EntityKit, Key: KitSent, Info: "Kit sent to its owner"},
		{EntityType: EntityKit, Key: KitActivated, Info: "Kit activated by its owner"},

		{EntityType: EntityResearch, Key: ResearchPending, Info: "Research created, not started"},
		{EntityType: EntityResearch, Key: ResearchOngoing, Info: "Research accepts samples"},
		{EntityType: EntityResearch, Key: ResearchPaused, Info: "Research temporarily paused"},
		{EntityType: EntityResearch, Key: ResearchEnded, Info: "Research finished"},
		{EntityType: EntityResearch, Key: ResearchCancelled, Info: "Research cancelled"},

		{EntityType: EntitySample, Key: SampleCollected, Info: "Sample collected in the field"},
		{EntityType: EntitySample, Key: SampleSent, Info: "Sample sent to the lab"},
		{EntityType: EntitySample, Key: SampleDelivered, Info: "Sample delivered to the lab"},
	}
}
