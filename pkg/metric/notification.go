package metric

import (
	"fmt"
	"strconv"
	"time"
)

// Severity of a notification.
type Severity int

const (
	SeverityFailure Severity = 1
	SeverityWarning Severity = 2
	SeverityOkay    Severity = 4
)

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	return s == SeverityFailure || s == SeverityWarning || s == SeverityOkay
}

func (s Severity) String() string {
	switch s {
	case SeverityFailure:
		return "FAILURE"
	case SeverityWarning:
		return "WARNING"
	case SeverityOkay:
		return "OKAY"
	default:
		return "Severity(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseSeverity accepts FAILURE, WARNING or OKAY.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "FAILURE":
		return SeverityFailure, nil
	case "WARNING":
		return SeverityWarning, nil
	case "OKAY":
		return SeverityOkay, nil
	}
	return 0, fmt.Errorf("invalid severity %q", s)
}

// Notification is an alerting event.
type Notification struct {
	Name        string
	Severity    Severity
	Time        time.Time
	Labels      LabelSet
	Annotations LabelSet
}

// Clone returns a deep copy of n.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	return &Notification{
		Name:        n.Name,
		Severity:    n.Severity,
		Time:        n.Time,
		Labels:      n.Labels.Clone(),
		Annotations: n.Annotations.Clone(),
	}
}

// Equal compares all fields.
func (n *Notification) Equal(o *Notification) bool {
	if n == nil || o == nil {
		return n == o
	}
	return n.Name == o.Name &&
		n.Severity == o.Severity &&
		n.Time.Equal(o.Time) &&
		n.Labels.Equal(o.Labels) &&
		n.Annotations.Equal(o.Annotations)
}
