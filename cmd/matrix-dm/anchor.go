// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package main

// ScrollState tracks the timeline viewport's vertical position in
// rendered lines. Offset is the index of the first visible content
// line. All methods are pure: they return the adjusted state.
type ScrollState struct {
	// Offset is the first visible content line.
	Offset int

	// Content is the total content height in lines.
	Content int

	// Viewport is the visible height in lines.
	Viewport int
}

func (s ScrollState) maxOffset() int {
	max := s.Content - s.Viewport
	if max < 0 {
		return 0
	}
	return max
}

// Clamp bounds Offset to the valid scroll range.
func (s ScrollState) Clamp() ScrollState {
	if s.Offset > s.maxOffset() {
		s.Offset = s.maxOffset()
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	return s
}

// ScrollBy moves the viewport by delta lines; negative is up.
func (s ScrollState) ScrollBy(delta int) ScrollState {
	s.Offset += delta
	return s.Clamp()
}

// AtBottom reports whether the newest content line is visible.
func (s ScrollState) AtBottom() bool {
	return s.Offset >= s.maxOffset()
}

// Prepend accounts for insertedHeight lines added above the current
// content. The offset grows by exactly the inserted height, so the
// lines the user was anchored on do not move on screen.
func (s ScrollState) Prepend(insertedHeight int) ScrollState {
	s.Content += insertedHeight
	s.Offset += insertedHeight
	return s.Clamp()
}

// Append accounts for addedHeight lines added below the current
// content. A viewport that was at the bottom follows the new content;
// one scrolled up stays anchored where it is.
func (s ScrollState) Append(addedHeight int) ScrollState {
	wasAtBottom := s.AtBottom()
	s.Content += addedHeight
	if wasAtBottom {
		s.Offset = s.maxOffset()
	}
	return s.Clamp()
}

// Resize adjusts for a new content or viewport height, preserving the
// bottom anchor when the viewport was there.
func (s ScrollState) Resize(content, viewport int) ScrollState {
	wasAtBottom := s.AtBottom()
	s.Content = content
	s.Viewport = viewport
	if wasAtBottom {
		s.Offset = s.maxOffset()
	}
	return s.Clamp()
}

// NearTop reports whether the viewport is within threshold lines of
// the oldest content — the backward pagination trigger.
func (s ScrollState) NearTop(threshold int) bool {
	return s.Offset <= threshold
}
