package planner

/*
 * Feed and traverse override handling. Overrides scale cruise_vset into
 * cruise_vmax during backward planning. Changing the active factor ramps
 * smoothly over FeedOverrideRampTime rather than stepping, so the velocity
 * profile stays jerk-continuous across the change.
 */

// StartFeedOverride begins ramping the active override factor toward the
// given target over rampTime minutes.
func (p *Planner) StartFeedOverride(rampTime, factor float64) {
	factor = fmax(fmin(factor, FeedOverrideMax), FeedOverrideMin)
	p.mfoActive = true
	p.rampTarget = factor
	if rampTime <= 0 {
		p.mfoFactor = factor
		p.rampActive = false
	} else {
		p.rampActive = true
		p.rampDvdt = (factor - p.mfoFactor) / (rampTime / NomSegmentTime)
	}
	p.requestBackPlanning()
}

// EndFeedOverride ramps the factor back to 1.0 and disables the override
// when it arrives.
func (p *Planner) EndFeedOverride(rampTime float64) {
	p.rampTarget = 1.0
	if rampTime <= 0 {
		p.mfoFactor = 1.0
		p.rampActive = false
		p.mfoActive = false
	} else {
		p.rampActive = true
		p.rampDvdt = (1.0 - p.mfoFactor) / (rampTime / NomSegmentTime)
	}
	p.requestBackPlanning()
}

// OverrideFactor returns the active override factor.
func (p *Planner) OverrideFactor() float64 {
	if !p.mfoActive {
		return 1.0
	}
	return p.mfoFactor
}

// rampOverride advances an active override ramp by one planner pass.
func (p *Planner) rampOverride() {
	if !p.rampActive {
		return
	}
	p.mfoFactor += p.rampDvdt
	done := (p.rampDvdt >= 0 && p.mfoFactor >= p.rampTarget) ||
		(p.rampDvdt < 0 && p.mfoFactor <= p.rampTarget)
	if done {
		p.mfoFactor = p.rampTarget
		p.rampActive = false
		if p.mfoFactor == 1.0 {
			p.mfoActive = false
		}
	}
	p.requestPlanning = true
}
