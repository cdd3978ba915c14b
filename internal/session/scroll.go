package session

// NearBottomThreshold is how close, in pixels, a viewport must be to the
// bottom for an append to pull it down.
const NearBottomThreshold = 100

// ScrollState is a viewport measurement taken before a change.
type ScrollState struct {
	ScrollTop    int `json:"scroll_top"`
	ScrollHeight int `json:"scroll_height"`
	ClientHeight int `json:"client_height"`
}

// DistanceFromBottom is how far the viewport sits above the end of content.
func (st ScrollState) DistanceFromBottom() int {
	d := st.ScrollHeight - st.ScrollTop - st.ClientHeight
	if d < 0 {
		return 0
	}
	return d
}

// AnchorAfterGrow returns the scroll offset that keeps the viewport on the
// same content after older messages were prepended and the content grew to
// newScrollHeight.
func AnchorAfterGrow(before ScrollState, newScrollHeight int) int {
	top := newScrollHeight - before.ClientHeight - before.DistanceFromBottom()
	if top < 0 {
		return 0
	}
	return top
}

// ShouldAutoScroll reports whether an append should scroll to the bottom.
func ShouldAutoScroll(before ScrollState, justSelected bool) bool {
	return justSelected || before.DistanceFromBottom() <= NearBottomThreshold
}
