package dto

import (
	"bytes"
	"encoding/json"
	"time"
)

// RingCentral party status codes
const (
	RingCentralStatusSetup        = "Setup"
	RingCentralStatusProceeding   = "Proceeding"
	RingCentralStatusAnswered     = "Answered"
	RingCentralStatusConnected    = "Connected"
	RingCentralStatusDisconnected = "Disconnected"
)

// RingCentralWebhook is a telephony session notification
// Ref: https://developers.ringcentral.com/api-reference/Telephony-Sessions-Event
type RingCentralWebhook struct {
	UUID            string                  `json:"uuid"`
	Event           string                  `json:"event"`
	Timestamp       *time.Time              `json:"timestamp,omitempty"`
	SubscriptionID  string                  `json:"subscriptionId"`
	OwnerID         string                  `json:"ownerId,omitempty"`
	ValidationToken string                  `json:"validationToken,omitempty"` // subscription setup only
	Body            *RingCentralSessionBody `json:"body,omitempty"`
}

// RingCentralSessionBody is the telephony session state
type RingCentralSessionBody struct {
	TelephonySessionID string             `json:"telephonySessionId,omitempty"`
	SessionID          string             `json:"sessionId,omitempty"`
	Parties            []RingCentralParty `json:"parties"`
}

// RingCentralParty is one leg of a telephony session
type RingCentralParty struct {
	ID          string              `json:"id"`
	ExtensionID string              `json:"extensionId,omitempty"` // set for internal extensions
	Direction   FlexString          `json:"direction"`
	Status      FlexString          `json:"status"`
	From        RingCentralEndpoint `json:"from"`
	To          RingCentralEndpoint `json:"to"`
}

// RingCentralEndpoint is the caller or callee of a party
type RingCentralEndpoint struct {
	PhoneNumber     string `json:"phoneNumber,omitempty"`
	ExtensionNumber string `json:"extensionNumber,omitempty"`
	Name            string `json:"name,omitempty"`
}

// FlexString accepts either a plain string or an object such as
// {"code": "Answered"} or {"value": "Inbound"}, which RingCentral uses interchangeably
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}

	var obj struct {
		Code  string `json:"code"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Code != "" {
		*f = FlexString(obj.Code)
	} else {
		*f = FlexString(obj.Value)
	}
	return nil
}

// SessionKey returns the telephony session id
func (b *RingCentralSessionBody) SessionKey() string {
	if b.TelephonySessionID != "" {
		return b.TelephonySessionID
	}
	return b.SessionID
}

// AgentParty returns the first party that belongs to an internal extension
func (b *RingCentralSessionBody) AgentParty() *RingCentralParty {
	for i := range b.Parties {
		if b.Parties[i].ExtensionID != "" {
			return &b.Parties[i]
		}
	}
	return nil
}

// CustomerNumber returns the remote phone number: the caller for inbound calls, the callee otherwise
func (p *RingCentralParty) CustomerNumber() string {
	if string(p.Direction) == "Outbound" {
		return p.To.PhoneNumber
	}
	return p.From.PhoneNumber
}

// RingCentralPresenceRequest updates an extension's presence
type RingCentralPresenceRequest struct {
	UserStatus string `json:"userStatus"` // Available, Busy
}

// RingCentralNoteRequest creates a note on an extension
type RingCentralNoteRequest struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ContactID string `json:"contactId,omitempty"`
}

// RingCentralErrorResponse is RingCentral's error body
type RingCentralErrorResponse struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}
