// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devicebuf

import (
	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/devicemem/pkg/support/sets"
)

// CollectDefinitionEvents inserts the buffer's definition events into the
// given set. Passing the same set for several buffers accumulates the
// deduplicated events of all of them, e.g. to wait once per event before an
// execution that reads many buffers.
func CollectDefinitionEvents(buffer *Buffer, events sets.Set[*CompletionEvent]) {
	events.Insert(buffer.DefinitionEvents()...)
}

// WaitForDefinitionEventsOnStream stalls the stream until the buffer's
// contents are valid on the device: it waits for each distinct definition
// event once. It blocks the caller until all the definition events are
// recorded.
func WaitForDefinitionEventsOnStream(buffer *Buffer, stream backends.Stream) error {
	events := sets.Make[*CompletionEvent](len(buffer.DefinitionEvents()))
	CollectDefinitionEvents(buffer, events)
	for event := range events {
		if err := event.WaitForEventOnStream(stream); err != nil {
			return err
		}
	}
	return nil
}
