package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/GramHealth/consult"
	"github.com/room4-2/GramHealth/triage"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	dsn, err := ArchiveDSNForFile(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	a, err := NewArchive(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func snapshot(id string, start time.Time, texts ...string) consult.Snapshot {
	snap := consult.Snapshot{
		ID:          id,
		Modality:    consult.ModalityChat,
		Status:      consult.StatusEnded,
		StartedAt:   start,
		ConnectedAt: start.Add(1500 * time.Millisecond),
		EndedAt:     start.Add(time.Minute),
		Triage:      triage.State{Phase: triage.PhaseDetails, Symptom: triage.SymptomFever},
	}
	for i, text := range texts {
		speaker := consult.SpeakerUser
		source := consult.TurnSource("")
		if i%2 == 1 {
			speaker = consult.SpeakerAssistant
			source = consult.SourceFallback
		}
		snap.Transcript = append(snap.Transcript, consult.Turn{
			Speaker:   speaker,
			Text:      text,
			Timestamp: start.Add(time.Duration(i+2) * time.Second),
			Source:    source,
		})
	}
	return snap
}

func TestArchiveSaveAndRead(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, a.Save(ctx, snapshot("c1", start, "I have fever", "How long?")))
	require.NoError(t, a.Save(ctx, snapshot("c2", start.Add(time.Hour), "hello")))

	list, err := a.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID)
	assert.Equal(t, "c1", list[1].ID)
	assert.Equal(t, 2, list[1].Turns)
	assert.Equal(t, "DETAILS", list[1].Phase)
	assert.Equal(t, "FEVER", list[1].Symptom)
	assert.Equal(t, start.UnixMilli(), list[1].StartedAt)

	turns, err := a.Turns(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Speaker)
	assert.Equal(t, "I have fever", turns[0].Text)
	assert.Equal(t, "fallback", turns[1].Source)
}

func TestArchiveSaveReplaces(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	start := time.Now()

	require.NoError(t, a.Save(ctx, snapshot("c1", start, "a", "b", "c")))
	require.NoError(t, a.Save(ctx, snapshot("c1", start, "a")))

	turns, err := a.Turns(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	list, err := a.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestArchiveRejectsBadInput(t *testing.T) {
	_, err := NewArchive("  ")
	assert.Error(t, err)
	_, err = ArchiveDSNForFile("")
	assert.Error(t, err)

	a := newTestArchive(t)
	assert.Error(t, a.Save(context.Background(), consult.Snapshot{}))

	turns, err := a.Turns(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestRecorderArchivesClosedSessions(t *testing.T) {
	a := newTestArchive(t)
	r := NewRecorder(a)

	r.SessionClosed(snapshot("c9", time.Now(), "hi", "hello"))
	r.Wait()

	turns, err := a.Turns(context.Background(), "c9")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestPreferenceStoreMemory(t *testing.T) {
	p := NewPreferenceStore(nil)
	ctx := context.Background()

	lang, err := p.Language(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, DefaultLanguage, lang)

	require.NoError(t, p.SetLanguage(ctx, "client-1", "hi"))
	lang, err = p.Language(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "hi", lang)

	assert.Error(t, p.SetLanguage(ctx, "", "hi"))
	assert.Error(t, p.SetLanguage(ctx, "client-1", " "))
	_, err = p.Language(ctx, "")
	assert.Error(t, err)
}
