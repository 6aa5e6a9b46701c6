// Package messages defines the outbound notification records exchanged with
// external parties through the connectivity gateway.
package messages

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guardline/guardline/pkg/geo"
)

// Kind classifies an outbound message
type Kind string

const (
	KindEmergency Kind = "emergency"
	KindAlert     Kind = "alert"
	KindStatus    Kind = "status"
	KindResponse  Kind = "response"
)

// DeliveryState tracks a message toward a terminal state. Transitions are
// monotonically forward: queued -> sent/delivered/failed.
type DeliveryState string

const (
	DeliveryQueued    DeliveryState = "queued"
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// Terminal reports whether the state admits no further transition
func (s DeliveryState) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

// Outbound is a single notification owned by the gateway from creation to a
// terminal delivery state.
type Outbound struct {
	ID            string        `json:"id"`
	Kind          Kind          `json:"kind"`
	Body          string        `json:"body"`
	Recipient     string        `json:"recipient"`
	CreatedAt     time.Time     `json:"created_at"`
	DeliveryState DeliveryState `json:"delivery_state"`
}

// NewOutbound creates a message in the queued state with a fresh id
func NewOutbound(kind Kind, recipient, body string) *Outbound {
	return &Outbound{
		ID:            uuid.New().String(),
		Kind:          kind,
		Body:          body,
		Recipient:     recipient,
		CreatedAt:     time.Now().UTC(),
		DeliveryState: DeliveryQueued,
	}
}

// EmergencyBody renders the notification text for a dispatched incident
func EmergencyBody(subjectID, kind string, pos geo.Position) string {
	return fmt.Sprintf("EMERGENCY: %s incident for %s. Location: %.4f,%.4f. Immediate assistance required.",
		kind, subjectID, pos.Lat, pos.Lng)
}

// AlertBody renders the advisory text for a high-risk zone entry
func AlertBody(subjectID, zoneName string) string {
	return fmt.Sprintf("SAFETY ALERT: High risk area detected (%s). Advised to move to safe zone. ID: %s",
		zoneName, subjectID)
}

// OfflineStatusBody renders the fallback-activation notice
func OfflineStatusBody(lastSafeZone string, pos geo.Position) string {
	return fmt.Sprintf("OFFLINE MODE: Monitoring offline, SMS fallback active. Last location: %.4f,%.4f. Last safe zone: %s.",
		pos.Lat, pos.Lng, lastSafeZone)
}

// CancelBody renders the notice for a countdown cancelled by its subject
func CancelBody(subjectID, incidentID string) string {
	return fmt.Sprintf("STATUS: Emergency activation %s cancelled by %s.", incidentID, subjectID)
}

// IdentityVerification is the result delivered by the external identity
// verification service. The engine attaches it to incidents but never
// computes it.
type IdentityVerification struct {
	Valid      bool      `json:"valid"`
	RiskLevel  string    `json:"risk_level"` // low, medium, high
	VerifiedAt time.Time `json:"verified_at"`
}
