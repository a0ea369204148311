package constants

import "time"

// 上游 HTTP 连接池配置（grok 单主机，连接数量级较小）
const (
	UpstreamMaxIdleConns        = 256
	UpstreamMaxIdleConnsPerHost = 64
	UpstreamIdleConnTimeout     = 90 * time.Second

	DefaultDialTimeout         = 10 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
)

// 浏览器指纹相关的固定请求头
const (
	UpstreamUserAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"
	UpstreamAcceptLanguage = "zh-CN,zh;q=0.9,en;q=0.8"
	UpstreamSecChUa        = `"Google Chrome";v="136", "Chromium";v="136", "Not(A:Brand";v="24"`
)
