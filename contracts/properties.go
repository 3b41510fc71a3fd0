package contracts

import "fmt"

// Registration property keys
const (
	PropertyDestinationName = "destination.name"
	PropertyServiceRanking  = "service.ranking"
	PropertyServiceID       = "service.id"
)

// Properties accompany every registration. The bus assigns a service id
// when none is present and writes it back so the same map can later be
// used to unregister.
type Properties map[string]any

// NewProperties creates properties targeting a destination
func NewProperties(destinationName string) Properties {
	return Properties{PropertyDestinationName: destinationName}
}

// WithRanking sets the ranking and returns the properties
func (p Properties) WithRanking(rank int) Properties {
	p[PropertyServiceRanking] = rank
	return p
}

// DestinationName returns the destination.name property
func (p Properties) DestinationName() string {
	if p == nil {
		return ""
	}
	switch v := p[PropertyDestinationName].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Ranking returns the service.ranking property, 0 when absent
func (p Properties) Ranking() int {
	if p == nil {
		return 0
	}
	switch v := p[PropertyServiceRanking].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// ServiceID returns the service.id property and whether it was set
func (p Properties) ServiceID() (int64, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p[PropertyServiceID].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
