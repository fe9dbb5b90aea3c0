// Package scope routes user text to a named topical scope. The scope filters
// knowledge retrieval and is reported to the client when it changes.
package scope

import (
	"sort"
	"strings"
)

// General is the scope a session starts in.
const General = "general"

// Scope is a named topic with its keyword triggers.
type Scope struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
}

// DefaultScopes returns the built-in catalog.
func DefaultScopes() []Scope {
	return []Scope{
		{Name: General, Description: "Small talk and general questions"},
		{
			Name:        "support",
			Description: "Problems with an existing order or reservation",
			Keywords:    []string{"problema", "ayuda", "no funciona", "problem", "help", "broken", "issue", "soporte", "support"},
		},
		{
			Name:        "billing",
			Description: "Payments, invoices and refunds",
			Keywords:    []string{"factura", "pago", "cobro", "reembolso", "invoice", "payment", "refund", "charge", "billing"},
		},
		{
			Name:        "booking",
			Description: "Reservations, flights and hotels",
			Keywords:    []string{"reserva", "vuelo", "hotel", "booking", "reservation", "flight", "check-in"},
		},
	}
}

// Catalog is an ordered, read-only set of scopes. Safe for concurrent use
// after construction.
type Catalog struct {
	scopes []Scope
	index  map[string]int
}

// NewCatalog merges configured scopes over the defaults. A configured scope
// with an existing name replaces the default entirely; new names are appended
// in configuration order.
func NewCatalog(configured []Scope) *Catalog {
	c := &Catalog{index: make(map[string]int)}
	for _, s := range DefaultScopes() {
		c.put(s)
	}
	for _, s := range configured {
		c.put(s)
	}
	return c
}

func (c *Catalog) put(s Scope) {
	s.Name = strings.ToLower(strings.TrimSpace(s.Name))
	if s.Name == "" {
		return
	}
	kw := make([]string, 0, len(s.Keywords))
	for _, k := range s.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	s.Keywords = kw

	if i, ok := c.index[s.Name]; ok {
		c.scopes[i] = s
		return
	}
	c.index[s.Name] = len(c.scopes)
	c.scopes = append(c.scopes, s)
}

// Scopes returns a copy of the catalog in order.
func (c *Catalog) Scopes() []Scope {
	out := make([]Scope, len(c.scopes))
	copy(out, c.scopes)
	return out
}

// Names returns the scope names sorted alphabetically.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.scopes))
	for _, s := range c.scopes {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is in the catalog.
func (c *Catalog) Has(name string) bool {
	_, ok := c.index[strings.ToLower(name)]
	return ok
}

// MatchKeywords returns the first scope, in catalog order, with a keyword
// contained in text (case-insensitive).
func (c *Catalog) MatchKeywords(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, s := range c.scopes {
		for _, k := range s.Keywords {
			if strings.Contains(lower, k) {
				return s.Name, true
			}
		}
	}
	return "", false
}
