package policy

import "fateinfer/internal/encode"

// flattenInput concatenates one agent's self/ally/enemy/global vectors with
// three grid-channel means into the trunk's fixed-width input vector.
func flattenInput(obs *encode.Observation, agent int) []float32 {
	x := make([]float32, 0, inputDim)

	x = append(x, obs.Self[agent][:]...)
	for a := 0; a < encode.NumAllies; a++ {
		x = append(x, obs.Ally[agent][a][:]...)
	}
	for en := 0; en < encode.NumEnemies; en++ {
		x = append(x, obs.Enemy[agent][en][:]...)
	}
	x = append(x, obs.Global[agent][:]...)

	for ch := 0; ch < 3; ch++ {
		var sum float64
		grid := obs.Grid[agent][ch]
		for row := range grid {
			for _, v := range grid[row] {
				sum += float64(v)
			}
		}
		n := len(grid) * len(grid[0])
		x = append(x, float32(sum/float64(n)))
	}
	return x
}
