package policy

import (
	"math"
	"math/rand"
)

const log2pi = 1.8378770664093453

// sampleCategorical masks disallowed entries to a large negative value,
// softmaxes, draws one index, and returns its log-probability under the
// (masked) distribution.
func sampleCategorical(rng *rand.Rand, logits []float32, mask []bool) (action int, logProb float32) {
	masked := make([]float32, len(logits))
	for i, v := range logits {
		if i < len(mask) && !mask[i] {
			masked[i] = -1e8
		} else {
			masked[i] = v
		}
	}
	probs := softmax(masked)
	action = drawFromProbs(rng, probs)
	lp := logSoftmax(masked)
	return action, lp[action]
}

func drawFromProbs(rng *rand.Rand, probs []float32) int {
	r := rng.Float64()
	var cum float64
	for i, p := range probs {
		cum += float64(p)
		if r <= cum {
			return i
		}
	}
	return len(probs) - 1
}

// sampleNormal draws sample = mean + exp(logstd)*N(0,1) per dimension and
// returns the summed per-dimension Gaussian log-density.
func sampleNormal(rng *rand.Rand, mean, logstd []float32) (sample []float32, logProb float32) {
	sample = make([]float32, len(mean))
	var total float64
	for i := range mean {
		std := math.Exp(float64(logstd[i]))
		noise := rng.NormFloat64()
		s := float64(mean[i]) + std*noise
		sample[i] = float32(s)

		diff := s - float64(mean[i])
		variance := std * std
		lp := -0.5*(diff*diff/variance) - float64(logstd[i]) - 0.5*log2pi
		total += lp
	}
	return sample, float32(total)
}
