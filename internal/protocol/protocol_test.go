package protocol_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/abuss/syncpair/internal/protocol"
)

func TestDirectoryRef_Key_SharedUsesNameAlone(t *testing.T) {
	ref := protocol.DirectoryRef{ParticipantID: "laptop-a", DirectoryName: "notes", Shared: true}
	assert.Equal(t, "notes", ref.Key())
}

func TestDirectoryRef_Key_PrivateScopesToParticipant(t *testing.T) {
	ref := protocol.DirectoryRef{ParticipantID: "laptop-a", DirectoryName: "notes", Shared: false}
	assert.Equal(t, "laptop-a:notes", ref.Key())
}

func TestMillisRoundTrip_TruncatesToMillisecondPrecision(t *testing.T) {
	t1 := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)
	got := protocol.FromMillis(protocol.ToMillis(t1))
	assert.Equal(t, t1.Truncate(time.Millisecond), got)
}
