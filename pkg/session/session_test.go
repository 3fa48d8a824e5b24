package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/mjr-recordplay/pkg/registry"
)

func TestBeginRecordingTransitionsState(t *testing.T) {
	s := New(RoleRecorder, nil, nil)
	require.Equal(t, StateIdle, s.State())

	rec := registry.NewRecording("demo")
	require.NoError(t, s.BeginRecording(rec, Track{}, Track{}))
	require.Equal(t, StateRecording, s.State())
}

func TestBeginRecordingWrongRole(t *testing.T) {
	s := New(RolePlayer, nil, nil)
	err := s.BeginRecording(registry.NewRecording("demo"), Track{}, Track{})
	require.Error(t, err)
}

func TestBeginPreparingThenPlaying(t *testing.T) {
	s := New(RolePlayer, nil, nil)
	rec := registry.NewRecording("demo")
	require.NoError(t, s.BeginPreparing(rec, Track{}, Track{}))
	require.Equal(t, StatePreparing, s.State())

	require.NoError(t, s.BeginPlaying())
	require.Equal(t, StatePlaying, s.State())
}

func TestBeginPlayingRequiresPreparing(t *testing.T) {
	s := New(RolePlayer, nil, nil)
	err := s.BeginPlaying()
	require.Error(t, err)
}

func TestHangupIsIdempotent(t *testing.T) {
	s := New(RoleRecorder, nil, nil)
	rec := registry.NewRecording("demo")
	require.NoError(t, s.BeginRecording(rec, Track{}, Track{}))
	rec.AddViewer(s.ID)

	require.NoError(t, s.Hangup())
	require.True(t, s.Destroyed())
	require.Empty(t, rec.Viewers())

	// Second call must be a no-op, not an error and not a double-release.
	require.NoError(t, s.Hangup())
}

func TestHangupMarksRecordingCompleted(t *testing.T) {
	s := New(RoleRecorder, nil, nil)
	rec := registry.NewRecording("demo")
	require.NoError(t, s.BeginRecording(rec, Track{}, Track{}))

	require.NoError(t, s.Hangup())
	require.True(t, rec.Completed())
}

func TestTableInsertLookupRemove(t *testing.T) {
	table := NewTable(nil)
	s := New(RoleRecorder, nil, nil)
	table.Insert(s)

	got, err := table.Lookup(s.ID)
	require.NoError(t, err)
	require.Equal(t, s, got)

	table.Remove(s.ID)
	_, err = table.Lookup(s.ID)
	require.Error(t, err)
}

func TestTableLookupMissingIsDistinctError(t *testing.T) {
	table := NewTable(nil)
	_, err := table.Lookup("nonexistent")
	require.False(t, errors.Is(err, nil))
}
