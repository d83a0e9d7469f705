package validators

import (
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	tcommon "github.com/sigma67/tendercore/common"
	"github.com/sigma67/tendercore/core"
)

type fakeSource struct {
	committees map[tcommon.Height]core.Committee
	err        error
}

func (f *fakeSource) Committee(height tcommon.Height) (core.Committee, error) {
	if f.err != nil {
		return core.Committee{}, f.err
	}
	return f.committees[height], nil
}

func TestWatcherRefreshPublishesUpdate(t *testing.T) {
	committee1 := core.Committee{Members: []ethcommon.Address{{1}, {2}}}
	committee2 := core.Committee{Members: []ethcommon.Address{{1}, {2}, {3}}}
	src := &fakeSource{committees: map[tcommon.Height]core.Committee{
		1: committee1,
		2: committee2,
	}}
	w := NewWatcher(src)
	defer w.Close()

	ch := make(chan Update, 4)
	sub := w.Subscribe(ch)
	defer sub.Unsubscribe()

	require.NoError(t, w.Refresh(1))
	got, height := w.Current()
	require.Equal(t, tcommon.Height(1), height)
	require.Equal(t, committee1, got)

	update := <-ch
	require.Equal(t, tcommon.Height(1), update.Height)
	require.Equal(t, committee1, update.Committee)

	require.NoError(t, w.Refresh(2))
	got, height = w.Current()
	require.Equal(t, tcommon.Height(2), height)
	require.Equal(t, committee2, got)

	update = <-ch
	require.Equal(t, tcommon.Height(2), update.Height)
	require.Equal(t, committee2, update.Committee)
}

func TestWatcherRefreshPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{err: boom}
	w := NewWatcher(src)
	defer w.Close()

	err := w.Refresh(1)
	require.Error(t, err)
	require.ErrorIs(t, err, boom)

	_, height := w.Current()
	require.Equal(t, tcommon.Height(0), height)
}
