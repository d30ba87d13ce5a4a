package models

import "time"

// DeliveryResult is the outcome of one send attempt to one destination
type DeliveryResult struct {
	Destination string `json:"destination"`
	Success     bool   `json:"success"`
	ErrorDetail string `json:"error,omitempty"`
}

// DeliveryReport aggregates the results of delivering one message
type DeliveryReport struct {
	Message Message          `json:"message"`
	Text    string           `json:"formattedText"`
	Results []DeliveryResult `json:"results"`
	Stats   ForwardingStats  `json:"stats"`
}

// SuccessCount returns the number of destinations that accepted the message
func (r DeliveryReport) SuccessCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

// FailureCount returns the number of failed destinations
func (r DeliveryReport) FailureCount() int {
	return len(r.Results) - r.SuccessCount()
}

type OutcomeKind string

const (
	OutcomeQueued         OutcomeKind = "queued"
	OutcomeDisabled       OutcomeKind = "disabled"
	OutcomeDelivered      OutcomeKind = "delivered"
	OutcomeTransportError OutcomeKind = "transport_error"
)

// SubmitOutcome is the result of handing a message to the engine. Report is
// set for OutcomeDelivered, and for OutcomeTransportError when some
// destinations were attempted before the fan-out stopped. Detail is set only
// for OutcomeTransportError.
type SubmitOutcome struct {
	Kind   OutcomeKind     `json:"outcome"`
	Report *DeliveryReport `json:"report,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

func Queued() SubmitOutcome {
	return SubmitOutcome{Kind: OutcomeQueued}
}

func Disabled() SubmitOutcome {
	return SubmitOutcome{Kind: OutcomeDisabled}
}

func Delivered(report DeliveryReport) SubmitOutcome {
	return SubmitOutcome{Kind: OutcomeDelivered, Report: &report}
}

func TransportError(detail string) SubmitOutcome {
	return SubmitOutcome{Kind: OutcomeTransportError, Detail: detail}
}

// InterruptedDelivery is a transport error that still carries the results of
// the destinations attempted before the fan-out stopped
func InterruptedDelivery(report DeliveryReport, detail string) SubmitOutcome {
	return SubmitOutcome{Kind: OutcomeTransportError, Report: &report, Detail: detail}
}

// DeliveryRecord is one row of the persisted delivery log
type DeliveryRecord struct {
	ID          int64     `json:"id"`
	MessageID   string    `json:"messageId"`
	ExternalID  string    `json:"externalId,omitempty"`
	Channel     string    `json:"channel,omitempty"`
	Destination string    `json:"destination"`
	Text        string    `json:"text"`
	Success     bool      `json:"success"`
	ErrorDetail string    `json:"error,omitempty"`
	DeliveredAt time.Time `json:"deliveredAt"`
}
