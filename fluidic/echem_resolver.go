package fluidic

// requiredEchemReading resolves which detector reading a move or a
// passive wait must see before it is satisfied (§4.5). Each non-
// sentinel position carries two requirements, one per travel
// direction; a stationary controller (not moving) always consults the
// forward lane, since that is the lane calibrated against the contact
// the controller is actually resting on.
func requiredEchemReading(params *FluidicParams, target Position, dir Direction, moving bool) EchemReading {
	if !target.nonSentinel() {
		return EchemInvalid
	}
	idx := MoveFwd
	if moving && dir == DirReverse {
		idx = MoveRev
	}
	return params.Limits(target).EchemReq[idx]
}
