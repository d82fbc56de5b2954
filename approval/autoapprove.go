package approval

// TryAutoApprove reports whether a payload is small enough to be approved
// on submission. The comparison is inclusive; a zero or unset threshold
// never auto-approves, nor does a payload without a magnitude.
func TryAutoApprove(t RequestType, p Payload, settings Settings) bool {
	if p == nil || p.Type() != t {
		return false
	}
	threshold := settings.For(t).AutoApproveThreshold
	if !threshold.IsPositive() {
		return false
	}
	magnitude, ok := p.Magnitude()
	if !ok {
		return false
	}
	return magnitude.LessThanOrEqual(threshold)
}
