package coin

import "matchlink-service/config"

// Costs lists the coin price of each paid action.
type Costs struct {
	Message      int64 `json:"message"`
	VideoCall    int64 `json:"video_call"`
	VoiceCall    int64 `json:"voice_call"`
	SuperMatch   int64 `json:"super_match"`
	ProfileBoost int64 `json:"profile_boost"`
	Gift         int64 `json:"gift"`
}

// ActionCosts reads the configured coin costs, falling back to defaults.
func ActionCosts() Costs {
	return Costs{
		Message:      int64(config.ConfigInt("MESSAGE_COST_COINS", 1)),
		VideoCall:    int64(config.ConfigInt("VIDEO_CALL_COST_COINS", 5)),
		VoiceCall:    int64(config.ConfigInt("VOICE_CALL_COST_COINS", 3)),
		SuperMatch:   int64(config.ConfigInt("SUPER_MATCH_COST_COINS", 10)),
		ProfileBoost: int64(config.ConfigInt("PROFILE_BOOST_COST_COINS", 20)),
		Gift:         int64(config.ConfigInt("GIFT_COST_COINS", 5)),
	}
}

// DailyRewardBase is the configured base daily login reward.
func DailyRewardBase() int {
	return config.ConfigInt("DAILY_LOGIN_COINS", 10)
}
