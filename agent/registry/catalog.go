package registry

import contractx "github.com/voyagent/voyagent/agent/contract"

// Intents shipped with the binary.
const (
	IntentTripPlan  = "travel.plan"
	IntentHotelOnly = "travel.hotel"
)

func intPtr(v int) *int { return &v }

// TravelCatalog is the static capability set for the travel intents.
// Registered once at startup.
func TravelCatalog() []contractx.Contract {
	return []contractx.Contract{
		{
			Name:     "destination.resolve",
			Purpose:  "Normalize a free-text destination into a concrete place.",
			Required: []string{"destination"},
			Optional: []string{"region"},
			Aliases:  map[string]string{"destination": "city"},
			Intent:   IntentTripPlan,
		},
		{
			Name:         "hotel.search",
			Purpose:      "Find candidate hotels for the stay window.",
			Required:     []string{"destination", "check_in", "check_out"},
			Optional:     []string{"party_size", "budget"},
			Aliases:      map[string]string{"destination": "city"},
			Predecessors: []string{"destination.resolve"},
			Intent:       IntentTripPlan,
		},
		{
			Name:         "flight.search",
			Purpose:      "Find candidate flights into the destination.",
			Required:     []string{"destination", "check_in", "origin"},
			Optional:     []string{"cabin_class"},
			Predecessors: []string{"destination.resolve"},
			Intent:       IntentTripPlan,
		},
		{
			Name:         "web.search",
			Purpose:      "Gather activity and context snippets for the trip.",
			Required:     []string{"destination"},
			Optional:     []string{"interests"},
			Predecessors: []string{"destination.resolve"},
			Intent:       IntentTripPlan,
			IsDefault:    true,
		},
		{
			Name:         "affiliate.links",
			Purpose:      "Attach booking links to surfaced inventory.",
			Predecessors: []string{"hotel.search"},
			OrderHint:    intPtr(10),
			Intent:       IntentTripPlan,
			IsDefault:    true,
		},
		{
			Name:       "itinerary.compose",
			Purpose:    "Assemble gathered results into a day-by-day itinerary.",
			Optional:   []string{"trip_length"},
			OrderHint:  intPtr(100),
			Intent:     IntentTripPlan,
			IsRequired: true,
		},

		{
			Name:     "hotel.search.solo",
			Purpose:  "Hotel-only lookup without the trip pipeline.",
			Required: []string{"destination", "check_in", "check_out"},
			Optional: []string{"party_size"},
			Aliases:  map[string]string{"destination": "city"},
			Intent:   IntentHotelOnly,
		},
	}
}

// TravelDefaults are the intent-specific slot defaults injected when
// extraction leaves a field unset.
func TravelDefaults() map[string]map[string]any {
	return map[string]map[string]any{
		IntentTripPlan: {
			"party_size":  2,
			"trip_length": 3,
		},
		IntentHotelOnly: {
			"party_size": 2,
		},
	}
}
