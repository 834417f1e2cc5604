// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// fileWatch watches one directory for the creation of a named file via
// inotify. IN_MOVED_TO is included alongside IN_CREATE because some of
// the watched processes publish their socket with an atomic rename.
type fileWatch struct {
	ready     chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
}

// newFileWatch installs the watch and starts the read loop. The caller
// must stat the target itself after this returns: a file that existed
// before the watch was installed produces no event, and stat-ing after
// the install closes the appear-before-watch race in the other
// direction.
func newFileWatch(directory, filename string) (*fileWatch, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	if _, err := unix.InotifyAddWatch(fd, directory, unix.IN_CREATE|unix.IN_MOVED_TO); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("inotify_add_watch on %s: %w", directory, err)
	}

	w := &fileWatch{
		ready: make(chan struct{}),
		stop:  make(chan struct{}),
	}
	go w.readLoop(fd, filename)
	return w, nil
}

// Ready returns the channel that closes when the file appears.
func (w *fileWatch) Ready() <-chan struct{} { return w.ready }

// Close stops the read loop. Safe to call more than once, and
// regardless of whether Ready has fired.
func (w *fileWatch) Close() {
	w.closeOnce.Do(func() { close(w.stop) })
}

// readLoop drains inotify events until the target filename shows up,
// the watch is closed, or the descriptor errors out. poll(2) with a
// 100ms timeout keeps the goroutine responsive to Close without
// spinning. The inotify descriptor is released here, on loop exit,
// never by Close.
func (w *fileWatch) readLoop(fd int, filename string) {
	defer unix.Close(fd)

	buffer := make([]byte, 4096)
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pollFds, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue // timeout; re-check stop
		}

		read, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return
		}

		if eventsContainName(buffer[:read], filename) {
			close(w.ready)
			return
		}
	}
}

// eventsContainName scans a raw inotify event buffer for an event
// carrying the given name. Each event is a fixed inotify_event header
// (wd, mask, cookie, len — the len field sits at byte offset 12)
// followed by len bytes of null-padded name; see inotify(7).
func eventsContainName(buffer []byte, name string) bool {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		next := offset + unix.SizeofInotifyEvent + nameLength
		if next > len(buffer) {
			break
		}
		if nameLength > 0 {
			raw := buffer[offset+unix.SizeofInotifyEvent : next]
			if string(raw[:nameEnd(raw)]) == name {
				return true
			}
		}
		offset = next
	}
	return false
}

// nameEnd finds the length of the event name within its null-padded
// field.
func nameEnd(raw []byte) int {
	for i, b := range raw {
		if b == 0 {
			return i
		}
	}
	return len(raw)
}
