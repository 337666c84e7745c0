package periscope

// KahanSummation accumulates floating point values with compensation
// for the error introduced by adding many small terms to a large sum.
type KahanSummation struct {
	sum float64
	c   float64
}

// Add folds x into the running sum.
func (k *KahanSummation) Add(x float64) {
	var y = x - k.c
	var t = k.sum + y
	k.c = (t - k.sum) - y
	k.sum = t
}

// Sum returns the compensated total.
func (k *KahanSummation) Sum() float64 {
	return k.sum
}
