package queue

import (
	"context"
	"log/slog"
)

// WatchPendingCount streams the number of non-terminal items.
// The current value is sent on subscribe and after every mutation; a slow reader only sees the latest value.
// The channel closes when ctx is done.
func (s *SQLiteStore) WatchPendingCount(ctx context.Context) <-chan int {
	ch := make(chan int, 1)

	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()

	if count, err := s.PendingCount(ctx); err == nil {
		s.watchMu.Lock()
		sendLatest(ch, count)
		s.watchMu.Unlock()
	}

	go func() {
		<-ctx.Done()
		s.watchMu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.watchMu.Unlock()
	}()

	return ch
}

// notify pushes the current count to every watcher
func (s *SQLiteStore) notify(ctx context.Context) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if len(s.watchers) == 0 {
		return
	}

	count, err := s.PendingCount(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.Warn("Failed to refresh pending count", slog.String("error", err.Error()))
		return
	}

	for ch := range s.watchers {
		sendLatest(ch, count)
	}
}

// sendLatest replaces any unread value with v
func sendLatest(ch chan int, v int) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
