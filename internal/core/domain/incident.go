package domain

import "strings"

// Incident is one automated response recorded by the workflow service.
type Incident struct {
	Date   string `json:"date"`
	Type   string `json:"incident"`
	Action string `json:"action"`
}

// IncidentFilter selects incidents by one column. Field is "Date",
// "Incident" or "Action"; an empty field or "All" matches everything.
type IncidentFilter struct {
	Field string
	Value string
}

func FilterIncidents(incidents []Incident, f IncidentFilter) []Incident {
	if f.Field == "" || f.Field == "All" || f.Value == "" {
		return append([]Incident(nil), incidents...)
	}

	value := strings.ToLower(f.Value)
	var out []Incident
	for _, inc := range incidents {
		switch f.Field {
		case "Date":
			if strings.Contains(inc.Date, f.Value) {
				out = append(out, inc)
			}
		case "Incident":
			if strings.Contains(strings.ToLower(inc.Type), value) {
				out = append(out, inc)
			}
		case "Action":
			if strings.Contains(strings.ToLower(inc.Action), value) {
				out = append(out, inc)
			}
		}
	}
	return out
}
