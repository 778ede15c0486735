package gateway

// Direction limits which sessions may receive redistributed credit.
type Direction string

const (
	EarlierSessionsOnly Direction = "earlier_sessions_only"
	AnySession          Direction = "any_session"
	LaterSessionsOnly   Direction = "later_sessions_only"
)

// RoleRedistribution moves one IHC role's credit away from the listed channels.
type RoleRedistribution struct {
	Direction                   Direction `json:"direction"`
	ReceiveThreshold            float64   `json:"receive_threshold"`
	RedistributionChannelLabels []string  `json:"redistribution_channel_labels"`
}

type RedistributionParameter struct {
	Initializer RoleRedistribution `json:"initializer"`
	Holder      RoleRedistribution `json:"holder"`
	Closer      RoleRedistribution `json:"closer"`
}

// DefaultRedistribution reroutes credit away from "direct" channels;
// nil channels means just "Direct".
func DefaultRedistribution(channels []string) *RedistributionParameter {
	if len(channels) == 0 {
		channels = []string{"Direct"}
	}
	return &RedistributionParameter{
		Initializer: RoleRedistribution{Direction: EarlierSessionsOnly, ReceiveThreshold: 0, RedistributionChannelLabels: channels},
		Holder:      RoleRedistribution{Direction: AnySession, ReceiveThreshold: 0, RedistributionChannelLabels: channels},
		Closer:      RoleRedistribution{Direction: LaterSessionsOnly, ReceiveThreshold: 0.1, RedistributionChannelLabels: channels},
	}
}
