package domain

// PresenceStatus is an agent's canonical availability, derived from open conversations
type PresenceStatus string

// PresenceStatus constants
const (
	PresenceAvailable PresenceStatus = "Available"
	PresenceBusyChat  PresenceStatus = "BusyChat"
	PresenceBusyCall  PresenceStatus = "BusyCall"
	PresenceBusyBoth  PresenceStatus = "BusyBoth"
)

// Platform-side presence values
const (
	LiveChatAcceptingChats    = "accepting_chats"
	LiveChatNotAcceptingChats = "not_accepting_chats"
	RingCentralAvailable      = "Available"
	RingCentralBusy           = "Busy"
)

// DerivePresence computes the canonical status from open conversation counts
func DerivePresence(openChats, openCalls int) PresenceStatus {
	switch {
	case openChats > 0 && openCalls > 0:
		return PresenceBusyBoth
	case openChats > 0:
		return PresenceBusyChat
	case openCalls > 0:
		return PresenceBusyCall
	default:
		return PresenceAvailable
	}
}

// Busy reports whether the agent has any open conversation
func (s PresenceStatus) Busy() bool {
	return s != PresenceAvailable && s != ""
}

// PlatformValue projects the canonical status onto the value platform p displays
func (s PresenceStatus) PlatformValue(p Platform) string {
	if p == PlatformLiveChat {
		if s.Busy() {
			return LiveChatNotAcceptingChats
		}
		return LiveChatAcceptingChats
	}
	if s.Busy() {
		return RingCentralBusy
	}
	return RingCentralAvailable
}

// Reason describes why an agent holds status s
func (s PresenceStatus) Reason() string {
	switch s {
	case PresenceBusyChat:
		return "chatting"
	case PresenceBusyCall:
		return "on_call"
	case PresenceBusyBoth:
		return "chatting_and_on_call"
	default:
		return "available"
	}
}
