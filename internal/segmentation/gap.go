package segmentation

// Gap is the outcome of scanning one histogram range for a blank run.
type Gap struct {
	// Trimmed is the range with blank margins removed on both ends. It equals
	// the input range when the range holds no ink at all.
	Trimmed Interval

	// Split is the index just past the longest blank run. Only meaningful
	// when Found is true.
	Split int

	Found bool
}

// FindGap trims blank margins off r and looks for the longest interior blank
// run of hist. A position is blank when hist[x]/peak < ratio, where peak is the
// maximum of hist over r. The run is accepted as a split point when it is at
// least minRun long and its end leaves more than minSize on both sides of the
// trimmed range. Among equally long runs the first one wins.
//
// hist is indexed by absolute coordinate; only positions inside r are read.
func FindGap(hist []int, r Interval, ratio float64, minRun int, minSize float64) Gap {
	if r.Empty() {
		return Gap{Trimmed: r}
	}

	peak := 0
	for x := r.Start; x < r.End; x++ {
		if hist[x] > peak {
			peak = hist[x]
		}
	}
	if peak < 1 {
		return Gap{Trimmed: r}
	}

	p := float64(peak)
	blank := func(x int) bool {
		return float64(hist[x])/p < ratio
	}

	left, right := r.Start, r.End
	for left < right && blank(left) {
		left++
	}
	for right > left && blank(right-1) {
		right--
	}
	trimmed := Interval{Start: left, End: right}

	if float64(trimmed.Len()) <= minSize {
		return Gap{Trimmed: trimmed}
	}

	run, longest, runEnd := 0, 0, 0
	for x := left; x < right; x++ {
		if !blank(x) {
			run = 0
			continue
		}
		run++
		if run > longest {
			longest = run
			runEnd = x + 1
		}
	}

	if longest >= minRun &&
		float64(runEnd) > float64(left)+minSize &&
		float64(runEnd) < float64(right)-minSize {
		return Gap{Trimmed: trimmed, Split: runEnd, Found: true}
	}
	return Gap{Trimmed: trimmed}
}
