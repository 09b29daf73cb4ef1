package payload

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-server/pkg/constants"
)

func pushBody(ref string, deleted bool) []byte {
	d := "false"
	if deleted {
		d = "true"
	}
	return []byte(`{
		"ref": "` + ref + `",
		"deleted": ` + d + `,
		"head_commit": {"id": "abc123"},
		"repository": {"name": "repoA"},
		"pusher": {"name": "ted"}
	}`)
}

func TestFromPush_Branch(t *testing.T) {
	ev, err := FromPush("d-1", "push", pushBody("refs/heads/master", false))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, KindBranch, ev.Kind)
	assert.Equal(t, "master", ev.Branch)
	assert.Empty(t, ev.Tag)
	assert.Equal(t, "repoA", ev.Repository)
	assert.Equal(t, "abc123", ev.HeadCommit)
	assert.Equal(t, "ted", ev.Pusher)
	assert.Equal(t, constants.OriginWebhook, ev.Origin)
	assert.Equal(t, "abc123", ev.Identity())
	assert.False(t, ev.IsTag())
}

func TestFromPush_Tag(t *testing.T) {
	ev, err := FromPush("d-2", "push", pushBody("refs/tags/r1.2.3", false))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, KindTag, ev.Kind)
	assert.Equal(t, "r1.2.3", ev.Tag)
	assert.Equal(t, "r1.2.3", ev.Identity())
	assert.Equal(t, "r1.2.3", ev.Ref())
	assert.True(t, ev.IsTag())
}

func TestFromPush_DeletedRefIsIgnored(t *testing.T) {
	ev, err := FromPush("d-3", "push", pushBody("refs/heads/feature", true))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestFromPush_InvalidBody(t *testing.T) {
	_, err := FromPush("d-4", "push", []byte("not json"))
	assert.Error(t, err)

	_, err = FromPush("d-5", "push", []byte(`{"ref":"refs/heads/master"}`))
	assert.Error(t, err)
}

func TestNewRollback(t *testing.T) {
	ev := NewRollback("repoA", "r1.0.0", "deadbeef", "ops")

	_, err := uuid.Parse(ev.ID)
	assert.NoError(t, err)
	assert.Equal(t, EventTypeRollback, ev.Type)
	assert.Equal(t, KindRollback, ev.Kind)
	assert.Equal(t, constants.OriginManual, ev.Origin)
	assert.True(t, ev.IsTag())
	assert.Equal(t, "r1.0.0", ev.Identity())
	assert.Equal(t, ev.ID, ev.String())
}
