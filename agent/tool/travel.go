package tool

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	contractx "github.com/voyagent/voyagent/agent/contract"
)

// Capability names. They match the contract catalog registered at
// startup.
const (
	CapDestinationResolve = "destination.resolve"
	CapHotelSearch        = "hotel.search"
	CapHotelSearchSolo    = "hotel.search.solo"
	CapFlightSearch       = "flight.search"
	CapWebSearch          = "web.search"
	CapAffiliateLinks     = "affiliate.links"
	CapItineraryCompose   = "itinerary.compose"
)

// routedCapabilities delegate to the escalation router instead of
// running locally.
var routedCapabilities = map[string]bool{
	CapHotelSearch:     true,
	CapHotelSearchSolo: true,
	CapFlightSearch:    true,
	CapWebSearch:       true,
}

// queryFromFields builds the router query when the caller did not set
// one, from whatever slots the capability depends on.
func queryFromFields(capability string, fields *contractx.FieldSet) string {
	var parts []string
	for _, name := range []string{"destination", "city", "check_in", "check_out", "departure_date"} {
		if v, ok := fields.Get(name); ok {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	if len(parts) == 0 {
		return capability
	}
	return strings.Join(parts, " ")
}

// runDestinationResolve canonicalizes the destination slot: trimmed,
// single-spaced, title-cased. The normalized value is written back so
// downstream capabilities see one spelling.
func runDestinationResolve(_ context.Context, fields *contractx.FieldSet, _ contractx.RouteRequest) (contractx.CapabilityResult, error) {
	raw, ok := fields.Get("destination")
	if !ok {
		raw, ok = fields.Get("city")
	}
	if !ok {
		return contractx.CapabilityResult{
			Capability: CapDestinationResolve,
			Error:      "no destination to resolve",
		}, nil
	}

	resolved := normalizePlace(fmt.Sprint(raw))
	fields.Set("destination", resolved, contractx.SourceUser)
	return contractx.CapabilityResult{
		Capability: CapDestinationResolve,
		Output:     resolved,
	}, nil
}

func normalizePlace(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		// First rune, not first byte: place names like Évora start
		// with a multi-byte rune.
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// runAffiliateLinks emits tracked booking links for the destination.
func runAffiliateLinks(_ context.Context, fields *contractx.FieldSet, route contractx.RouteRequest) (contractx.CapabilityResult, error) {
	dest, ok := fields.Get("destination")
	if !ok {
		return contractx.CapabilityResult{
			Capability: CapAffiliateLinks,
			Error:      "no destination for affiliate links",
		}, nil
	}

	q := url.Values{}
	q.Set("destination", fmt.Sprint(dest))
	q.Set("ref", "voyagent")
	if route.SessionID != "" {
		q.Set("sid", route.SessionID)
	}
	if v, ok := fields.Get("check_in"); ok {
		q.Set("check_in", fmt.Sprint(v))
	}

	links := []string{
		"https://booking.example.com/search?" + q.Encode(),
		"https://hotels.example.com/deals?" + q.Encode(),
	}
	return contractx.CapabilityResult{
		Capability: CapAffiliateLinks,
		Output:     links,
	}, nil
}

// runItineraryCompose renders a plain-text day-by-day outline from the
// filled slots. Model-written itineraries live upstream; this runner
// keeps the capability usable without an LLM call.
func runItineraryCompose(_ context.Context, fields *contractx.FieldSet, _ contractx.RouteRequest) (contractx.CapabilityResult, error) {
	dest := "your destination"
	if v, ok := fields.Get("destination"); ok {
		dest = fmt.Sprint(v)
	}
	days := 3
	if v, ok := fields.Get("trip_length"); ok {
		if n, ok := asInt(v); ok && n > 0 {
			days = n
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Itinerary for %s (%d days)\n", dest, days)
	for day := 1; day <= days; day++ {
		fmt.Fprintf(&b, "Day %d: explore %s\n", day, dest)
	}
	return contractx.CapabilityResult{
		Capability: CapItineraryCompose,
		Output:     b.String(),
	}, nil
}

// asInt tolerates the number types JSON decoding and extraction
// produce.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
