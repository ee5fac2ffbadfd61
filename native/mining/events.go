package mining

const (
	EventTypeSettled          = "mining.settled"
	EventTypeClaimed          = "mining.claimed"
	EventTypeHashPowerChanged = "mining.hash_power_changed"
)
