package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Simulate returns the static demo payload for a tool. Tools without a
// dedicated payload get a generic acknowledgement echoing their arguments.
func Simulate(name string, args map[string]any) map[string]any {
	switch name {
	case "lookup_booking":
		return map[string]any{
			"locator":     str(args, "locator", "ABC123"),
			"status":      "confirmed",
			"passenger":   "Ana García",
			"flight":      "IB3170",
			"origin":      "MAD",
			"destination": "BCN",
			"departure":   time.Now().Add(72 * time.Hour).Format("2006-01-02") + "T09:45:00",
			"simulated":   true,
		}
	case "check_order_status":
		return map[string]any{
			"order_id":  str(args, "order_id", "ORD-1001"),
			"status":    "shipped",
			"carrier":   "DHL",
			"eta":       time.Now().Add(48 * time.Hour).Format("2006-01-02"),
			"simulated": true,
		}
	case "get_weather":
		return map[string]any{
			"location":      str(args, "location", "Madrid"),
			"temperature_c": 22,
			"conditions":    "sunny",
			"simulated":     true,
		}
	case "create_ticket":
		id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		return map[string]any{
			"ticket_id": "TCK-" + id,
			"subject":   str(args, "subject", "Support request"),
			"priority":  str(args, "priority", "normal"),
			"status":    "open",
			"simulated": true,
		}
	default:
		return map[string]any{
			"ok":        true,
			"tool":      name,
			"args":      args,
			"simulated": true,
		}
	}
}

func str(args map[string]any, key, def string) string {
	if v, ok := args[key]; ok && v != nil {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return def
}

// DefaultDefinitions returns the built-in demo tools. None declare routes
// so they resolve to simulations until configuration supplies an API.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:        "lookup_booking",
			Description: "Look up a booking by its locator code",
			Parameters: object(map[string]any{
				"locator": prop("string", "Booking locator, e.g. ABC123"),
			}, "locator"),
		},
		{
			Name:        "check_order_status",
			Description: "Check the shipping status of an order",
			Parameters: object(map[string]any{
				"order_id": prop("string", "Order identifier"),
			}, "order_id"),
		},
		{
			Name:        "get_weather",
			Description: "Get the current weather for a location",
			Parameters: object(map[string]any{
				"location": prop("string", "City name"),
			}, "location"),
		},
		{
			Name:        "create_ticket",
			Description: "Open a support ticket",
			Parameters: object(map[string]any{
				"subject":  prop("string", "Short summary of the issue"),
				"priority": prop("string", "low, normal or high"),
			}, "subject"),
		},
	}
}

func object(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
