package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerivePresence(t *testing.T) {
	tests := []struct {
		name  string
		chats int
		calls int
		want  PresenceStatus
	}{
		{"idle", 0, 0, PresenceAvailable},
		{"one chat", 1, 0, PresenceBusyChat},
		{"many chats", 3, 0, PresenceBusyChat},
		{"one call", 0, 1, PresenceBusyCall},
		{"chat and call", 2, 1, PresenceBusyBoth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DerivePresence(tt.chats, tt.calls))
		})
	}
}

func TestPresenceStatus_PlatformValue(t *testing.T) {
	assert.Equal(t, LiveChatAcceptingChats, PresenceAvailable.PlatformValue(PlatformLiveChat))
	assert.Equal(t, LiveChatNotAcceptingChats, PresenceBusyCall.PlatformValue(PlatformLiveChat))
	assert.Equal(t, RingCentralAvailable, PresenceAvailable.PlatformValue(PlatformRingCentral))
	assert.Equal(t, RingCentralBusy, PresenceBusyChat.PlatformValue(PlatformRingCentral))
	assert.Equal(t, RingCentralBusy, PresenceBusyBoth.PlatformValue(PlatformRingCentral))
}

func TestPlatform_Other(t *testing.T) {
	assert.Equal(t, PlatformRingCentral, PlatformLiveChat.Other())
	assert.Equal(t, PlatformLiveChat, PlatformRingCentral.Other())
}

func TestSessionKey(t *testing.T) {
	ev := CallEnded{Envelope: Envelope{Platform: PlatformRingCentral}, SessionID: "S9"}
	assert.Equal(t, "ringcentral:S9", SessionKey(ev))
	assert.Equal(t, ConversationCall, ConversationTypeOf(ev))
	assert.False(t, IsStart(ev))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(&RemoteError{Platform: PlatformLiveChat, Status: 503, Err: ErrRemoteAPI}))
	assert.False(t, Retryable(&RemoteError{Platform: PlatformLiveChat, Status: 401, Err: ErrPermanent}))
}
