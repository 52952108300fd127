// Package descriptor converts neighbor geometry into the smooth-edition
// environment matrix a trained model consumes, together with its analytic
// derivative with respect to each neighbor displacement.
package descriptor

// Envelope evaluates the smooth cutoff weight C(r) and its derivative dC/dr.
//
// C is exactly 1 for r < rmin, decays over [rmin, rmax) through the quintic
// 1 - 10u^3 + 15u^4 - 6u^5 with u = (r-rmin)/(rmax-rmin), and is exactly 0
// for r >= rmax. Both C and dC/dr vanish at rmax, so forces derived from the
// descriptor stay continuous as neighbors cross the cutoff.
func Envelope(r, rmin, rmax float64) (c, dc float64) {
	switch {
	case r < rmin:
		return 1, 0
	case r >= rmax:
		return 0, 0
	default:
		du := 1 / (rmax - rmin)
		u := (r - rmin) * du
		u2 := u * u
		c = 1 + u2*u*(-10+u*(15-6*u))
		dc = u2 * (-30 + u*(60-30*u)) * du
		return c, dc
	}
}
