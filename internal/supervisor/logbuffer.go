// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"sync"
)

const defaultLogBufferSize = 200

// LogBuffer is a thread-safe ring buffer of captured output lines with
// subscription support. Older lines are silently dropped once capacity is
// reached; subscribers that fall behind miss lines rather than block the
// producing process.
type LogBuffer struct {
	mu       sync.RWMutex
	lines    []LogLine
	capacity int
	size     int
	head     int // next write position
	sequence int64

	subMu       sync.RWMutex
	subscribers map[chan LogLine]struct{}
}

// NewLogBuffer creates a new log buffer with the given capacity.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = defaultLogBufferSize
	}
	return &LogBuffer{
		lines:       make([]LogLine, capacity),
		capacity:    capacity,
		subscribers: make(map[chan LogLine]struct{}),
	}
}

// Write adds a single line to the buffer and notifies subscribers.
func (b *LogBuffer) Write(stream, text string) LogLine {
	b.mu.Lock()
	b.sequence++
	line := LogLine{Stream: stream, Text: text, Sequence: b.sequence}
	b.lines[b.head] = line
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
	b.mu.Unlock()

	// Notify subscribers (non-blocking)
	b.subMu.RLock()
	for ch := range b.subscribers {
		select {
		case ch <- line:
		default:
			// Channel full, skip (subscriber too slow)
		}
	}
	b.subMu.RUnlock()

	return line
}

// Subscribe returns a channel that receives new log lines.
// The channel has a buffer of 100 lines.
func (b *LogBuffer) Subscribe() chan LogLine {
	ch := make(chan LogLine, 100)
	b.subMu.Lock()
	b.subscribers[ch] = struct{}{}
	b.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription channel.
func (b *LogBuffer) Unsubscribe(ch chan LogLine) {
	b.subMu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.subMu.Unlock()
}

// CloseAllSubscribers closes all subscriber channels and resets the
// subscriber map. Used when a process is torn down so orphaned readers exit.
func (b *LogBuffer) CloseAllSubscribers() {
	b.subMu.Lock()
	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[chan LogLine]struct{})
	b.subMu.Unlock()
}

// Sequence returns the current sequence number.
func (b *LogBuffer) Sequence() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence
}

// Lines returns the last n lines from the buffer, oldest first.
func (b *LogBuffer) Lines(n int) []LogLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || b.size == 0 {
		return []LogLine{}
	}

	if n > b.size {
		n = b.size
	}

	result := make([]LogLine, n)

	// head points to the next write position, so the most recent line is at
	// head-1; walk back n lines from there.
	start := (b.head - n + b.capacity) % b.capacity

	for i := 0; i < n; i++ {
		idx := (start + i) % b.capacity
		result[i] = b.lines[idx]
	}

	return result
}

// All returns all retained lines, oldest first.
func (b *LogBuffer) All() []LogLine {
	b.mu.RLock()
	n := b.size
	b.mu.RUnlock()
	return b.Lines(n)
}

// Size returns the number of lines in the buffer.
func (b *LogBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the maximum number of lines the buffer can hold.
func (b *LogBuffer) Capacity() int {
	return b.capacity
}

// Clear removes all lines from the buffer.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.size = 0
	b.head = 0
	for i := range b.lines {
		b.lines[i] = LogLine{}
	}
}
