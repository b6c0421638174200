// Package watcher turns changes in the business card directory into work
// items. Events are debounced so that an editor's save sequence or a copy
// produces one work item per participant.
//
// Usage:
//
//	w := watcher.New(cards, manager, watcher.Options{Debounce: 500 * time.Millisecond})
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop()
package watcher
