package config

const (
	// TopicOffloadResult is the NSQ topic carrying raw result envelopes from
	// the bridge to result processors.
	TopicOffloadResult = "offload.result"

	// ChannelProcessor is the NSQ channel shared by result processors.
	ChannelProcessor = "processor"
)
