package signals

import "math"

// NormCDF is the standard normal CDF using the Abramowitz-Stegun 26.2.17
// polynomial approximation (|error| < 7.5e-8).
func NormCDF(x float64) float64 {
	if x < 0 {
		return 1 - NormCDF(-x)
	}
	const (
		p  = 0.2316419
		b1 = 0.319381530
		b2 = -0.356563782
		b3 = 1.781477937
		b4 = -1.821255978
		b5 = 1.330274429
	)
	t := 1.0 / (1.0 + p*x)
	phi := math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
	poly := t * (b1 + t*(b2+t*(b3+t*(b4+t*b5))))
	return 1 - phi*poly
}

// NormInv inverts NormCDF by bisection on [-10, 10]; adequate for the alpha
// levels this engine sees.
func NormInv(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	if p >= 1 {
		return math.Inf(1)
	}
	lo, hi := -10.0, 10.0
	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		if NormCDF(mid) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// TwoProportionPower computes the power of a two-proportion z-test at the
// claimed absolute difference. alpha is split when twoSided.
func TwoProportionPower(nT, nC float64, pC, deltaAbs, alpha float64, twoSided bool) float64 {
	if nT <= 0 || nC <= 0 || deltaAbs <= 0 {
		return 0
	}
	pT := pC + deltaAbs
	if pT > 1 {
		pT = 1
	}

	var zAlpha float64
	if twoSided {
		zAlpha = NormInv(1 - alpha/2)
	} else {
		zAlpha = NormInv(1 - alpha)
	}

	pBar := (nT*pT + nC*pC) / (nT + nC)
	se0 := math.Sqrt(pBar * (1 - pBar) * (1/nT + 1/nC))
	se1 := math.Sqrt(pT*(1-pT)/nT + pC*(1-pC)/nC)
	if se1 == 0 {
		return 1
	}
	z := (deltaAbs - zAlpha*se0) / se1
	return NormCDF(z)
}

// FreedmanPower computes Freedman-style power for a time-to-event endpoint:
// Phi(sqrt(events * psi) * |ln HR| - z_alpha) with psi = k/(1+k)^2 for
// allocation ratio k.
func FreedmanPower(events float64, hrAlt float64, allocationRatio float64, alpha float64, twoSided bool) float64 {
	if events <= 0 || hrAlt <= 0 || hrAlt == 1 || allocationRatio <= 0 {
		return 0
	}
	var zAlpha float64
	if twoSided {
		zAlpha = NormInv(1 - alpha/2)
	} else {
		zAlpha = NormInv(1 - alpha)
	}
	psi := allocationRatio / math.Pow(1+allocationRatio, 2)
	return NormCDF(math.Sqrt(events*psi)*math.Abs(math.Log(hrAlt)) - zAlpha)
}

// BinomialTailOneSided is P(X >= k | n, p) for the heaping test.
func BinomialTailOneSided(k, n int, p float64) float64 {
	if k <= 0 {
		return 1
	}
	if k > n {
		return 0
	}
	tail := 0.0
	for i := k; i <= n; i++ {
		tail += binomialPMF(i, n, p)
	}
	if tail > 1 {
		tail = 1
	}
	return tail
}

func binomialPMF(k, n int, p float64) float64 {
	return math.Exp(logChoose(n, k) + float64(k)*math.Log(p) + float64(n-k)*math.Log(1-p))
}

func logChoose(n, k int) float64 {
	return logFactorial(n) - logFactorial(k) - logFactorial(n-k)
}

func logFactorial(n int) float64 {
	lg, _ := math.Lgamma(float64(n) + 1)
	return lg
}
