package temporal

import (
	"math"

	"github.com/RyanBlaney/sonido-key/algorithms/common"
	"github.com/RyanBlaney/sonido-key/algorithms/windowing"
)

// DefaultTightness controls how strongly beats are held to the tempo period
const DefaultTightness = 100.0

// TrackBeats places beats on an onset envelope with dynamic programming
// (Ellis 2007): every frame's score is its local onset strength plus the best
// predecessor score, penalized by the squared log deviation of the spacing
// from the tempo period. Beat times are returned in seconds.
func TrackBeats(onsetEnv []float64, bpm float64, sampleRate, hopSize int) []float64 {
	return trackBeats(onsetEnv, bpm, sampleRate, hopSize, DefaultTightness)
}

func trackBeats(onsetEnv []float64, bpm float64, sampleRate, hopSize int, tightness float64) []float64 {
	if len(onsetEnv) == 0 || bpm <= 0 || sampleRate <= 0 || hopSize <= 0 {
		return nil
	}

	period := math.Round(60.0 * float64(sampleRate) / float64(hopSize) / bpm)
	if period < 1 {
		return nil
	}

	std := common.StandardDeviation(onsetEnv)
	if std == 0 || math.IsNaN(std) {
		return nil
	}

	localScore := beatLocalScore(onsetEnv, std, int(period))
	backlink, cumScore := beatDynamicProgram(localScore, period, tightness)

	tail := lastBeat(cumScore)
	frames := []int{tail}
	for backlink[frames[len(frames)-1]] >= 0 {
		frames = append(frames, backlink[frames[len(frames)-1]])
	}
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}

	frames = trimBeats(localScore, frames)

	times := make([]float64, len(frames))
	for i, f := range frames {
		times[i] = float64(f*hopSize) / float64(sampleRate)
	}
	return times
}

// beatLocalScore smooths the standardized onset envelope with a Gaussian
// about one period wide
func beatLocalScore(onsetEnv []float64, std float64, period int) []float64 {
	kernel := make([]float64, 2*period+1)
	for i := range kernel {
		x := float64(i-period) * 32.0 / float64(period)
		kernel[i] = math.Exp(-0.5 * x * x)
	}

	n := len(onsetEnv)
	score := make([]float64, n)
	for t := range n {
		sum := 0.0
		for k, w := range kernel {
			j := t + k - period
			if j >= 0 && j < n {
				sum += w * onsetEnv[j] / std
			}
		}
		score[t] = sum
	}
	return score
}

// beatDynamicProgram computes the cumulative beat score of every frame and a
// link to its best predecessor, or -1 for the first beat
func beatDynamicProgram(localScore []float64, period, tightness float64) ([]int, []float64) {
	n := len(localScore)
	backlink := make([]int, n)
	cumScore := make([]float64, n)

	// Predecessors are searched between two periods and half a period back
	lo := -2 * int(period)
	hi := -int(math.Round(period / 2))
	txCost := make([]float64, hi-lo+1)
	for i := range txCost {
		d := math.Log(-float64(lo+i) / period)
		txCost[i] = -tightness * d * d
	}

	threshold := 0.01 * maxValue(localScore)
	firstBeat := true

	for t, score := range localScore {
		bestIdx := -1
		best := math.Inf(-1)
		for i, cost := range txCost {
			candidate := cost
			j := t + lo + i
			if j >= 0 {
				candidate += cumScore[j]
			}
			if candidate > best {
				best = candidate
				bestIdx = max(j, -1)
			}
		}

		cumScore[t] = score + best
		if firstBeat && score < threshold {
			backlink[t] = -1
		} else {
			backlink[t] = bestIdx
			firstBeat = false
		}
	}

	return backlink, cumScore
}

// lastBeat picks the last local maximum of the cumulative score that reaches
// half the median of all local maxima
func lastBeat(cumScore []float64) int {
	n := len(cumScore)
	var peaks []int
	for t := range n {
		left := t == 0 || cumScore[t] > cumScore[t-1]
		right := t == n-1 || cumScore[t] >= cumScore[t+1]
		if left && right {
			peaks = append(peaks, t)
		}
	}
	if len(peaks) == 0 {
		return n - 1
	}

	values := make([]float64, len(peaks))
	for i, p := range peaks {
		values[i] = cumScore[p]
	}
	threshold := 0.5 * common.Median(values)

	for i := len(peaks) - 1; i >= 0; i-- {
		if cumScore[peaks[i]] >= threshold {
			return peaks[i]
		}
	}
	return peaks[len(peaks)-1]
}

// trimBeats drops weak leading and trailing beats whose smoothed onset score
// falls below half the RMS of the beat scores
func trimBeats(localScore []float64, frames []int) []int {
	if len(frames) < 3 {
		return frames
	}

	hann := windowing.NewHann(5, true).GetCoefficients()
	smooth := make([]float64, len(frames))
	for i := range frames {
		sum := 0.0
		for k, w := range hann {
			j := i + k - len(hann)/2
			if j >= 0 && j < len(frames) {
				sum += w * localScore[frames[j]]
			}
		}
		smooth[i] = sum
	}

	sq := 0.0
	for _, v := range smooth {
		sq += v * v
	}
	threshold := 0.5 * math.Sqrt(sq/float64(len(smooth)))

	first, last := 0, len(frames)-1
	for first <= last && smooth[first] <= threshold {
		first++
	}
	for last >= first && smooth[last] <= threshold {
		last--
	}
	return frames[first : last+1]
}

func maxValue(data []float64) float64 {
	m := math.Inf(-1)
	for _, v := range data {
		m = math.Max(m, v)
	}
	return m
}
