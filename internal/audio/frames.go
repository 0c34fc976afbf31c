package audio

// SplitFrames cuts a synthesis chunk into transport frames of at most max
// bytes, preserving order and content. The returned frames alias data; callers
// that retain frames past the lifetime of data must copy them.
func SplitFrames(data []byte, max int) [][]byte {
	if len(data) == 0 || max <= 0 {
		return nil
	}

	frames := make([][]byte, 0, (len(data)+max-1)/max)
	for off := 0; off < len(data); off += max {
		end := off + max
		if end > len(data) {
			end = len(data)
		}
		frames = append(frames, data[off:end])
	}
	return frames
}
