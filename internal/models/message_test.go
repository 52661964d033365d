package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOutgoingMessage(t *testing.T) {
	images := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = "data:image/png;base64,AAAA"
		}
		return out
	}

	t.Run("content only", func(t *testing.T) {
		require.NoError(t, ValidateOutgoingMessage("hi", nil))
	})

	t.Run("attachment only", func(t *testing.T) {
		require.NoError(t, ValidateOutgoingMessage("", images(1)))
	})

	t.Run("both empty", func(t *testing.T) {
		err := ValidateOutgoingMessage("", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("at the attachment limit", func(t *testing.T) {
		require.NoError(t, ValidateOutgoingMessage("", images(MaxAttachments)))
	})

	t.Run("over the attachment limit", func(t *testing.T) {
		err := ValidateOutgoingMessage("hi", images(MaxAttachments+1))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
		assert.True(t, strings.Contains(err.Error(), "attachments"))
	})
}

func TestConversationPeer(t *testing.T) {
	conv := Conversation{ID: 1, UserLow: 3, UserHigh: 9}

	assert.Equal(t, 9, conv.Peer(3))
	assert.Equal(t, 3, conv.Peer(9))
	assert.True(t, conv.HasParticipant(3))
	assert.True(t, conv.HasParticipant(9))
	assert.False(t, conv.HasParticipant(4))
}
