package bill

import (
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the wire format of Bill.Date
const DateLayout = "2006-01-02"

var shortMonths = [12]string{
	"Jan", "Fév", "Mar", "Avr", "Mai", "Jui",
	"Jui", "Aoû", "Sep", "Oct", "Nov", "Déc",
}

var statusLabels = map[Status]string{
	StatusPending:  "En attente",
	StatusAccepted: "Accepté",
	StatusRefused:  "Refused",
}

// ParseDate parses an ISO YYYY-MM-DD bill date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing bill date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate turns "2004-04-04" into "4 Avr. 04"
func FormatDate(s string) (string, error) {
	t, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	year := strconv.Itoa(t.Year())
	if len(year) > 2 {
		year = year[2:]
	}
	return fmt.Sprintf("%d %s. %s", t.Day(), shortMonths[t.Month()-1], year), nil
}

// FormatStatus returns the French label of a status
func FormatStatus(s Status) (string, error) {
	label, ok := statusLabels[s]
	if !ok {
		return "", fmt.Errorf("unknown bill status %q", s)
	}
	return label, nil
}
