package constants

const (
	// BatchSubscriberBuffer 每个进度订阅者的通道容量
	BatchSubscriberBuffer = 200
	// UpstreamBodyPreview 错误日志里保留的响应体长度
	UpstreamBodyPreview = 220
)
