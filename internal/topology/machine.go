package topology

import "linkwatch/internal/domain"

// Trigger is an input to the per-link state machine. State only ever
// changes through Apply; nothing assigns Link.State directly.
type Trigger int

const (
	// TriggerTraffic - observed rx_bps>0 or tx_bps>0
	TriggerTraffic Trigger = iota
	// TriggerSilence - no traffic for the configured idle timeout
	TriggerSilence
	// TriggerDown - explicit interface-down signal or endpoint deletion
	TriggerDown
	// TriggerUp - explicit interface-up signal
	TriggerUp
)

func (t Trigger) String() string {
	switch t {
	case TriggerTraffic:
		return "traffic"
	case TriggerSilence:
		return "silence"
	case TriggerDown:
		return "down"
	case TriggerUp:
		return "up"
	}
	return "unknown"
}

// Apply evaluates a trigger against the current state and returns the
// next state plus whether a transition was realized. Re-delivering a
// trigger whose target equals the current state reports changed=false,
// which is what keeps transitions idempotent.
func Apply(current domain.LinkState, trigger Trigger) (next domain.LinkState, changed bool) {
	switch trigger {
	case TriggerTraffic:
		if current == domain.LinkStateIdle || current == domain.LinkStateDown {
			return domain.LinkStateActive, true
		}
	case TriggerSilence:
		if current == domain.LinkStateActive {
			return domain.LinkStateIdle, true
		}
	case TriggerDown:
		if current != domain.LinkStateDown {
			return domain.LinkStateDown, true
		}
	case TriggerUp:
		// A recovered link sits in idle until traffic is observed.
		if current == domain.LinkStateDown {
			return domain.LinkStateIdle, true
		}
	}
	return current, false
}
