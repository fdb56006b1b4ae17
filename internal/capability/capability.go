// Package capability serves the static, read-only descriptors the
// mcpe/capabilities and mcpe/schema operations return (spec.md §4.7): limits
// and supported feature flags so a client-side reasoner can build valid
// requests without out-of-band documentation.
package capability

// Capabilities describes hub-wide limits and supported features.
type Capabilities struct {
	MaxActiveSubscriptionsPerClient int              `json:"max_active_subscriptions_per_client"`
	Channels                        []string         `json:"channels"`
	Priorities                      []string         `json:"priorities"`
	Filters                         FilterCapability  `json:"filters"`
	Scheduling                      SchedulingSupport `json:"scheduling"`
	ProtocolVersion                 string            `json:"protocol_version"`
}

// FilterCapability advertises which filter dimensions and patterns are
// supported.
type FilterCapability struct {
	Wildcards bool `json:"wildcards"`
	Tags      bool `json:"tags"`
	Priority  bool `json:"priority"`
	Sources   bool `json:"sources"`
}

// SchedulingSupport advertises cron/scheduled support and accepted presets.
type SchedulingSupport struct {
	CronEnabled      bool     `json:"cron_enabled"`
	ScheduledEnabled bool     `json:"scheduled_enabled"`
	CronPresets      []string `json:"cron_presets"`
}

// OperationSchema is a structured descriptor of one JSON-RPC operation:
// name, human description, and example input/output shapes.
type OperationSchema struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Input       interface{}   `json:"input"`
	Output      interface{}   `json:"output"`
	Examples    []SchemaExample `json:"examples,omitempty"`
}

// SchemaExample pairs an example request with its expected response, for
// client-side few-shot priming.
type SchemaExample struct {
	Input  interface{} `json:"input"`
	Output interface{} `json:"output"`
}

// Service holds the static Capabilities and the operation schema catalog.
// Both are computed once at construction from the hub's configured limits
// and never change afterward.
type Service struct {
	capabilities Capabilities
	schemas      []OperationSchema
}

// New builds a Service advertising maxActivePerClient as the per-client
// subscription limit.
func New(maxActivePerClient int, protocolVersion string) *Service {
	return &Service{
		capabilities: Capabilities{
			MaxActiveSubscriptionsPerClient: maxActivePerClient,
			Channels:                        []string{"realtime", "cron", "scheduled"},
			Priorities:                      []string{"low", "normal", "high", "critical"},
			Filters: FilterCapability{
				Wildcards: true,
				Tags:      true,
				Priority:  true,
				Sources:   true,
			},
			Scheduling: SchedulingSupport{
				CronEnabled:      true,
				ScheduledEnabled: true,
				CronPresets:      []string{"@hourly", "@daily", "@weekly", "@monthly"},
			},
			ProtocolVersion: protocolVersion,
		},
		schemas: operationSchemas(),
	}
}

// Capabilities returns the static capability descriptor.
func (s *Service) Capabilities() Capabilities { return s.capabilities }

// Schemas returns every operation's schema.
func (s *Service) Schemas() []OperationSchema { return s.schemas }

func operationSchemas() []OperationSchema {
	return []OperationSchema{
		{
			Name:        "initialize",
			Description: "Handshake; negotiates protocol version and returns server capabilities.",
			Input:       map[string]string{"protocol_version": "string"},
			Output:      map[string]string{"protocol_version": "string", "server_info": "object", "capabilities": "object"},
			Examples: []SchemaExample{
				{Input: map[string]string{"protocol_version": "2025-01-01"}},
			},
		},
		{
			Name:        "mcpe/capabilities",
			Description: "Returns the static capability descriptor (limits, supported channels/priorities/filters/scheduling).",
			Input:       map[string]string{},
			Output:      "Capabilities",
		},
		{
			Name:        "mcpe/schema",
			Description: "Returns the structured schema for every operation.",
			Input:       map[string]string{},
			Output:      "[]OperationSchema",
		},
		{
			Name:        "subscriptions/create",
			Description: "Creates a subscription with a filter, delivery preferences, optional handler, and optional expiry.",
			Input: map[string]string{
				"filter":      "object",
				"delivery":    "object",
				"handler":     "object (optional)",
				"expires_at":  "string RFC3339 (optional)",
			},
			Output: "Subscription",
		},
		{
			Name:        "subscriptions/remove",
			Description: "Deletes an owned subscription by id.",
			Input:       map[string]string{"sub_id": "string"},
			Output:      map[string]string{"success": "bool"},
		},
		{
			Name:        "subscriptions/list",
			Description: "Lists the caller's subscriptions, optionally filtered by status.",
			Input:       map[string]string{"status": "string (optional)"},
			Output:      map[string]string{"subscriptions": "[]Subscription"},
		},
		{
			Name:        "subscriptions/update",
			Description: "Applies a partial update to an owned subscription's filter, delivery, handler, or expiry.",
			Input:       map[string]string{"sub_id": "string", "updates": "object"},
			Output:      "Subscription",
		},
		{
			Name:        "subscriptions/pause",
			Description: "Pauses an active subscription; no-op if already paused.",
			Input:       map[string]string{"sub_id": "string"},
			Output:      map[string]string{"success": "bool", "status": "string"},
		},
		{
			Name:        "subscriptions/resume",
			Description: "Resumes a paused subscription; no-op if already active; fails if expired.",
			Input:       map[string]string{"sub_id": "string"},
			Output:      map[string]string{"success": "bool", "status": "string"},
		},
		{
			Name:        "events/acknowledge",
			Description: "Best-effort delivery placeholder; currently a no-op.",
			Input:       map[string]string{"subscription_id": "string"},
			Output:      map[string]string{"success": "bool"},
		},
	}
}
