package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmesh/consensus/internal/audit"
	"github.com/auditmesh/consensus/internal/session"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := session.NewStore()

	sess := store.Create("p1", map[string]string{"depth": "standard"})
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, audit.SessionInProgress, sess.Status)
	assert.False(t, sess.StartedAt.IsZero())

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "p1", got.ProjectID)
}

func TestStore_GetUnknown(t *testing.T) {
	store := session.NewStore()
	_, err := store.Get("nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, audit.ErrNotFound)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store := session.NewStore()
	sess := store.Create("p1", nil)

	require.NoError(t, store.Update(sess.ID, func(s *audit.Session) {
		s.Findings = append(s.Findings, audit.Finding{Type: "xss"})
	}))

	got, err := store.Get(sess.ID)
	require.NoError(t, err)

	// Mutating the copy must not reach the stored session.
	got.Findings[0].Type = "mangled"
	got.Status = audit.SessionFailed

	again, err := store.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "xss", again.Findings[0].Type)
	assert.Equal(t, audit.SessionInProgress, again.Status)
}

func TestStore_Update(t *testing.T) {
	store := session.NewStore()
	sess := store.Create("p1", nil)

	require.NoError(t, store.Update(sess.ID, func(s *audit.Session) {
		s.Status = audit.SessionCompleted
	}))

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.SessionCompleted, got.Status)

	err = store.Update("nope", func(*audit.Session) {})
	assert.ErrorIs(t, err, audit.ErrNotFound)
}

func TestStore_ByProject(t *testing.T) {
	store := session.NewStore()
	store.Create("p1", nil)
	store.Create("p2", nil)
	store.Create("p1", nil)

	assert.Len(t, store.ByProject("p1"), 2)
	assert.Len(t, store.ByProject("p2"), 1)
	assert.Empty(t, store.ByProject("p3"))
	assert.Len(t, store.All(), 3)
}
