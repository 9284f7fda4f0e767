package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palengke/marketplace/internal/store"
)

func TestGetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "things", "a")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Put(ctx, "things", "a", json.RawMessage(`{"n":1}`)))
	doc, err := s.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(doc))

	require.NoError(t, s.Delete(ctx, "things", "a"))
	require.NoError(t, s.Delete(ctx, "things", "a"), "deleting an absent document is not an error")
	_, err = s.Get(ctx, "things", "a")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAtomicUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()

	// Creating through an update: fn sees nil.
	require.NoError(t, s.AtomicUpdate(ctx, "counters", "c", func(current json.RawMessage) (json.RawMessage, error) {
		require.Nil(t, current)
		return json.RawMessage(`{"n":1}`), nil
	}))

	require.NoError(t, s.AtomicUpdate(ctx, "counters", "c", func(current json.RawMessage) (json.RawMessage, error) {
		var v struct {
			N int `json:"n"`
		}
		require.NoError(t, json.Unmarshal(current, &v))
		v.N++
		return json.Marshal(v)
	}))

	doc, err := s.Get(ctx, "counters", "c")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(doc))
}

func TestAtomicUpdateUnchangedSkipsWrite(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.AtomicUpdate(ctx, "counters", "c", func(current json.RawMessage) (json.RawMessage, error) {
		return nil, store.ErrUnchanged
	}))
	_, err := s.Get(ctx, "counters", "c")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAtomicUpdateSurfacesErrors(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.AtomicUpdate(ctx, "counters", "c", func(current json.RawMessage) (json.RawMessage, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestConcurrentAtomicUpdatesAllApply(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, "counters", "c", json.RawMessage(`{"n":0}`)))

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.AtomicUpdate(ctx, "counters", "c", func(current json.RawMessage) (json.RawMessage, error) {
				var v struct {
					N int `json:"n"`
				}
				if err := json.Unmarshal(current, &v); err != nil {
					return nil, err
				}
				v.N++
				return json.Marshal(v)
			})
		}()
	}
	wg.Wait()

	doc, err := s.Get(ctx, "counters", "c")
	require.NoError(t, err)
	var v struct {
		N int `json:"n"`
	}
	require.NoError(t, json.Unmarshal(doc, &v))
	assert.Equal(t, writers, v.N)
}

func TestBatchWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, "things", "gone", json.RawMessage(`{}`)))

	require.NoError(t, s.BatchWrite(ctx, []store.Write{
		{Collection: "things", Key: "a", Doc: json.RawMessage(`{"n":1}`)},
		{Collection: "other", Key: "b", Doc: json.RawMessage(`{"n":2}`)},
		{Collection: "things", Key: "gone", Doc: nil},
	}))

	doc, err := s.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(doc))

	doc, err = s.Get(ctx, "other", "b")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(doc))

	_, err = s.Get(ctx, "things", "gone")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBatchWriteSizeBound(t *testing.T) {
	s := New()
	writes := make([]store.Write, store.MaxBatchSize+1)
	for i := range writes {
		writes[i] = store.Write{Collection: "things", Key: "k", Doc: json.RawMessage(`{}`)}
	}
	err := s.BatchWrite(context.Background(), writes)
	require.ErrorIs(t, err, store.ErrBatchTooLarge)
}
