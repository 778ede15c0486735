package ingest

import (
	"context"
	"errors"
	"testing"

	"example.com/attribution/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	batches [][]domain.Credit
	err     error
}

func (s *recordingSink) InsertCredits(_ context.Context, credits []domain.Credit) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.batches = append(s.batches, append([]domain.Credit(nil), credits...))
	return int64(len(credits)), nil
}

func credit(conv, sess string) domain.Credit {
	return domain.Credit{ConvID: conv, SessionID: sess, IHC: 0.5}
}

func TestWriter(t *testing.T) {
	ctx := context.Background()

	t.Run("flushes full batches as they fill", func(t *testing.T) {
		sink := &recordingSink{}
		w := NewWriter(sink, 2)
		require.NoError(t, w.Add(ctx, credit("C1", "S1"), credit("C1", "S2"), credit("C2", "S3")))
		assert.Len(t, sink.batches, 1)

		require.NoError(t, w.Flush(ctx))
		require.Len(t, sink.batches, 2)
		assert.Len(t, sink.batches[1], 1)
		assert.Equal(t, int64(3), w.Inserted())
	})

	t.Run("drops repeated keys", func(t *testing.T) {
		sink := &recordingSink{}
		w := NewWriter(sink, 10)
		require.NoError(t, w.Add(ctx, credit("C1", "S1"), credit("C1", "S1")))
		require.NoError(t, w.Add(ctx, credit("C1", "S1")))
		require.NoError(t, w.Flush(ctx))

		assert.Equal(t, int64(1), w.Inserted())
		assert.Equal(t, 2, w.Duplicates())
	})

	t.Run("flush with nothing buffered does not call the sink", func(t *testing.T) {
		sink := &recordingSink{}
		require.NoError(t, NewWriter(sink, 0).Flush(ctx))
		assert.Empty(t, sink.batches)
	})

	t.Run("keeps a failed batch buffered", func(t *testing.T) {
		sink := &recordingSink{err: errors.New("connection reset")}
		w := NewWriter(sink, 10)
		require.NoError(t, w.Add(ctx, credit("C1", "S1")))
		require.Error(t, w.Flush(ctx))

		sink.err = nil
		require.NoError(t, w.Flush(ctx))
		assert.Equal(t, int64(1), w.Inserted())
	})
}
