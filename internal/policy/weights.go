package policy

import (
	"fmt"

	"fateinfer/internal/fatefile"
)

// HiddenDim is the LSTM recurrent state width shared by every hero.
const HiddenDim = 256

// inputDim is the width of the flattened encoder input fed to the trunk:
// self(77) + 5 allies(37) + 6 enemies(43) + global(6) + 3 pooled grid channels.
const inputDim = 77 + 5*37 + 6*43 + 6 + 3

// headSpec names a discrete head and its output arity, in the canonical
// wire/mask order.
type headSpec struct {
	name string
	size int
}

var discreteHeadSpecs = []headSpec{
	{"skill", 8},
	{"unit_target", 14},
	{"skill_levelup", 6},
	{"stat_upgrade", 10},
	{"attribute", 5},
	{"item_buy", 17},
	{"item_use", 7},
	{"seal_use", 7},
	{"faire_send", 6},
	{"faire_request", 6},
	{"faire_respond", 3},
}

// linear is a dense layer y = W*x + b, W stored row-major (out x in).
type linear struct {
	w        []float32
	b        []float32
	in, out  int
}

func (l *linear) forward(x []float32) []float32 {
	y := make([]float32, l.out)
	for o := 0; o < l.out; o++ {
		sum := l.b[o]
		row := l.w[o*l.in : o*l.in+l.in]
		for i, xi := range x {
			sum += row[i] * xi
		}
		y[o] = sum
	}
	return y
}

// Weights holds every learned tensor the forward pass touches: the input
// trunk, the LSTM gate matrix, and a linear head per output.
type Weights struct {
	Input *linear // inputDim -> HiddenDim

	// Combined LSTM gate weights, ordered (input, forget, output, cell).
	// Projects concat(trunk_out, h_prev), both width HiddenDim.
	LSTMW []float32 // (4*HiddenDim) x (HiddenDim + HiddenDim)
	LSTMB []float32 // 4*HiddenDim

	DiscreteHeads map[string]*linear // HiddenDim -> head size

	MoveMean    *linear // HiddenDim -> 2
	MoveLogStd  []float32
	PointMean   *linear // HiddenDim -> 2
	PointLogStd []float32

	Value *linear // HiddenDim -> 1
}

func newLinear(c *fatefile.Container, wName, bName string, in, out int) (*linear, error) {
	wEntry, ok := c.Get(wName)
	if !ok {
		return nil, fmt.Errorf("policy: missing tensor %q", wName)
	}
	bEntry, ok := c.Get(bName)
	if !ok {
		return nil, fmt.Errorf("policy: missing tensor %q", bName)
	}
	w := wEntry.Float32Slice()
	b := bEntry.Float32Slice()
	if len(w) != in*out {
		return nil, fmt.Errorf("policy: tensor %q has %d elements, want %d (%dx%d)", wName, len(w), in*out, out, in)
	}
	if len(b) != out {
		return nil, fmt.Errorf("policy: tensor %q has %d elements, want %d", bName, len(b), out)
	}
	return &linear{w: w, b: b, in: in, out: out}, nil
}

// LoadWeights decodes a FATE-container model artifact into a Weights bundle.
func LoadWeights(path string) (*Weights, error) {
	c, err := fatefile.ReadFile(path)
	if err != nil {
		return nil, err
	}

	w := &Weights{DiscreteHeads: map[string]*linear{}}

	if w.Input, err = newLinear(c, "trunk_w", "trunk_b", inputDim, HiddenDim); err != nil {
		return nil, err
	}

	lstmW, ok := c.Get("lstm_w")
	if !ok {
		return nil, fmt.Errorf("policy: missing tensor %q", "lstm_w")
	}
	lstmB, ok := c.Get("lstm_b")
	if !ok {
		return nil, fmt.Errorf("policy: missing tensor %q", "lstm_b")
	}
	w.LSTMW = lstmW.Float32Slice()
	w.LSTMB = lstmB.Float32Slice()
	wantW := 4 * HiddenDim * (2 * HiddenDim)
	if len(w.LSTMW) != wantW {
		return nil, fmt.Errorf("policy: lstm_w has %d elements, want %d", len(w.LSTMW), wantW)
	}
	if len(w.LSTMB) != 4*HiddenDim {
		return nil, fmt.Errorf("policy: lstm_b has %d elements, want %d", len(w.LSTMB), 4*HiddenDim)
	}

	for _, h := range discreteHeadSpecs {
		lin, err := newLinear(c, "head_"+h.name+"_w", "head_"+h.name+"_b", HiddenDim, h.size)
		if err != nil {
			return nil, err
		}
		w.DiscreteHeads[h.name] = lin
	}

	if w.MoveMean, err = newLinear(c, "move_mean_w", "move_mean_b", HiddenDim, 2); err != nil {
		return nil, err
	}
	if w.PointMean, err = newLinear(c, "point_mean_w", "point_mean_b", HiddenDim, 2); err != nil {
		return nil, err
	}
	moveLogStd, ok := c.Get("move_logstd")
	if !ok {
		return nil, fmt.Errorf("policy: missing tensor %q", "move_logstd")
	}
	pointLogStd, ok := c.Get("point_logstd")
	if !ok {
		return nil, fmt.Errorf("policy: missing tensor %q", "point_logstd")
	}
	w.MoveLogStd = moveLogStd.Float32Slice()
	w.PointLogStd = pointLogStd.Float32Slice()
	if len(w.MoveLogStd) != 2 {
		return nil, fmt.Errorf("policy: move_logstd has %d elements, want 2", len(w.MoveLogStd))
	}
	if len(w.PointLogStd) != 2 {
		return nil, fmt.Errorf("policy: point_logstd has %d elements, want 2", len(w.PointLogStd))
	}

	if w.Value, err = newLinear(c, "value_w", "value_b", HiddenDim, 1); err != nil {
		return nil, err
	}

	return w, nil
}
