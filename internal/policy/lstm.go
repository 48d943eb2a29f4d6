package policy

// lstmStep runs one LSTM cell step. x and hPrev are both width HiddenDim
// (x is the trunk's projection of the raw observation, not the raw
// observation itself). Gate order within LSTMW/LSTMB is (input, forget,
// output, cell); this differs from PyTorch's (input, forget, cell, output).
func lstmStep(w *Weights, x, hPrev, cPrev []float32) (h, c []float32) {
	in := make([]float32, 2*HiddenDim)
	copy(in[:HiddenDim], x)
	copy(in[HiddenDim:], hPrev)

	gates := make([]float32, 4*HiddenDim)
	rowLen := 2 * HiddenDim
	for g := 0; g < 4*HiddenDim; g++ {
		sum := w.LSTMB[g]
		row := w.LSTMW[g*rowLen : g*rowLen+rowLen]
		for i, v := range in {
			sum += row[i] * v
		}
		gates[g] = sum
	}

	iGate := gates[0*HiddenDim : 1*HiddenDim]
	fGate := gates[1*HiddenDim : 2*HiddenDim]
	oGate := gates[2*HiddenDim : 3*HiddenDim]
	gGate := gates[3*HiddenDim : 4*HiddenDim]

	h = make([]float32, HiddenDim)
	c = make([]float32, HiddenDim)
	for k := 0; k < HiddenDim; k++ {
		i := sigmoid(iGate[k])
		f := sigmoid(fGate[k])
		o := sigmoid(oGate[k])
		g := tanh32(gGate[k])
		ck := f*cPrev[k] + i*g
		c[k] = ck
		h[k] = o * tanh32(ck)
	}
	return h, c
}
